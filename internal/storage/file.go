package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "botte/pkg/logx"
)

// fileStore appends JSON Lines.
//
// Files:
//   - <prefix>.emails.jsonl (accepted emails)
//   - <prefix>.audit.jsonl  (operator actions)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	emailsPath string
	emailsFile *os.File
	auditFile  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	emailsPath := prefix + ".emails.jsonl"
	ef, err := os.OpenFile(emailsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}
	log.Info("file storage ready", logx.String("prefix", prefix))

	return &fileStore{
		log:        log,
		emailsPath: emailsPath,
		emailsFile: ef,
		auditFile:  af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.emailsFile != nil {
		err1 = s.emailsFile.Close()
		s.emailsFile = nil
	}
	if s.auditFile != nil {
		err2 = s.auditFile.Close()
		s.auditFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendEmail(ctx context.Context, e EmailEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emailsFile == nil {
		return errors.New("emails file closed")
	}
	return json.NewEncoder(s.emailsFile).Encode(e)
}

func (s *fileStore) RecentEmails(ctx context.Context, limit int) ([]EmailEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.emailsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]EmailEntry, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e EmailEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			s.log.Debug("skipping malformed email line", logx.Err(err))
			continue
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, e)
	}
	return ring, sc.Err()
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}
