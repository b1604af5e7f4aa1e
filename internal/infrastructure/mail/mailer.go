package mail

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogMailer only logs messages. The body is omitted because it can carry
// one-time codes.
type LogMailer struct {
	Logger *zap.Logger
}

func (l *LogMailer) Send(_ context.Context, m Message) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.Info("mail queued",
		zap.String("kind", string(m.Kind)),
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
	)
	return nil
}

// FileMailer writes each message as an .eml file under Dir/<kind>/.
type FileMailer struct {
	Dir string
	Now func() time.Time
}

func NewFileMailer(dir string) *FileMailer {
	return &FileMailer{Dir: dir, Now: time.Now}
}

func (w *FileMailer) Send(_ context.Context, m Message) error {
	dir := filepath.Join(w.Dir, string(m.Kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	now := w.Now().UTC()
	name := now.Format("20060102T150405") + "_" + uuid.NewString() + ".eml"
	var b strings.Builder
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + m.Subject + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(m.Body)
	return os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644)
}

// MultiMailer fans a message out to every sender and joins their errors.
type MultiMailer struct {
	senders []Sender
}

func NewMultiMailer(ss ...Sender) *MultiMailer {
	return &MultiMailer{senders: ss}
}

func (m *MultiMailer) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m.senders {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
