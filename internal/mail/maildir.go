// Package mail reads the owner's sent messages from a Maildir folder and
// turns those addressed to customers into candidate email activities.
package mail

import (
	"context"
	"fmt"
	"mime"
	netmail "net/mail"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	appLog "timeledger/internal/log"
	"timeledger/internal/model"
)

// addressRE pulls addresses out of raw To/Cc headers. Headers in the wild are
// not always RFC 5322 clean, so no full parse is attempted.
var addressRE = regexp.MustCompile(`(?i)([a-z0-9+._-]+@[a-z0-9._-]+\.[a-z0-9_-]+)`)

// Options configures a Maildir reader.
type Options struct {
	OwnerEmail string
	Filter     model.DomainFilter

	// SkipSubjects drops messages whose subject contains any phrase,
	// case-insensitively (auto-replies, for instance).
	SkipSubjects []string

	// MaxMessages keeps only the newest messages. <= 0 means no cap.
	MaxMessages int
}

// Maildir is a sent-mail folder laid out as Maildir (cur/ and new/).
type Maildir struct {
	dir  string
	opts Options
}

func NewMaildir(dir string, opts Options) *Maildir {
	opts.OwnerEmail = strings.ToLower(strings.TrimSpace(opts.OwnerEmail))
	return &Maildir{dir: dir, opts: opts}
}

// Emails returns the messages sent in [from, to) that reached at least one
// external domain, oldest first.
func (m *Maildir) Emails(ctx context.Context, from, to time.Time) ([]model.Activity, error) {
	var files []string
	for _, sub := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(m.dir, sub))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read maildir: %w", err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, filepath.Join(m.dir, sub, e.Name()))
			}
		}
	}

	var out []model.Activity
	skipped := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, ok, err := m.readMessage(path, from, to)
		if err != nil {
			appLog.Warn("mail: unreadable message", "path", path, "err", err)
			skipped++
			continue
		}
		if ok {
			out = append(out, a)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].End.Before(out[j].End) })
	if n := m.opts.MaxMessages; n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	appLog.Info("mail: sent messages collected", "files", len(files), "emails", len(out), "unreadable", skipped)
	return out, nil
}

func (m *Maildir) readMessage(path string, from, to time.Time) (model.Activity, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Activity{}, false, err
	}
	defer f.Close()

	msg, err := netmail.ReadMessage(f)
	if err != nil {
		return model.Activity{}, false, err
	}
	return m.activity(msg.Header, filepath.Base(path), from, to)
}

// activity applies the sender, window, subject and domain filters to one
// message header.
func (m *Maildir) activity(h netmail.Header, name string, from, to time.Time) (model.Activity, bool, error) {
	sent, err := h.Date()
	if err != nil {
		return model.Activity{}, false, err
	}
	if sent.Before(from) || !sent.Before(to) {
		return model.Activity{}, false, nil
	}

	if m.opts.OwnerEmail != "" {
		sender, err := netmail.ParseAddress(h.Get("From"))
		if err != nil || strings.ToLower(sender.Address) != m.opts.OwnerEmail {
			return model.Activity{}, false, nil
		}
	}

	subject := strings.TrimSpace(decodeHeader(h.Get("Subject")))
	if subject == "" {
		return model.Activity{}, false, nil
	}
	lower := strings.ToLower(subject)
	for _, phrase := range m.opts.SkipSubjects {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return model.Activity{}, false, nil
		}
	}

	recipients := addressRE.FindAllString(h.Get("To")+","+h.Get("Cc"), -1)
	domains := m.opts.Filter.External(recipients)
	if len(domains) == 0 {
		return model.Activity{}, false, nil
	}

	id := strings.Trim(h.Get("Message-Id"), "<> ")
	if id == "" {
		id = name
	}
	return model.Activity{
		ID:      id,
		Kind:    model.KindEmail,
		Start:   sent,
		End:     sent,
		Label:   subject,
		Domains: domains,
	}, true, nil
}

var wordDecoder = new(mime.WordDecoder)

func decodeHeader(v string) string {
	if d, err := wordDecoder.DecodeHeader(v); err == nil {
		return d
	}
	return v
}
