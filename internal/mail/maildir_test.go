package mail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeledger/internal/model"
)

var (
	from = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	to   = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
)

func writeMessage(t *testing.T, dir, sub, name, from, toHdr, cc, subject string, sent time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o700))
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nCc: %s\r\nSubject: %s\r\nDate: %s\r\nMessage-Id: <%s@mail.example>\r\n\r\nbody\r\n",
		from, toHdr, cc, subject, sent.Format(time.RFC1123Z), name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, sub, name), []byte(body), 0o600))
}

func newTestMaildir(t *testing.T, max int) (*Maildir, string) {
	dir := t.TempDir()
	md := NewMaildir(dir, Options{
		OwnerEmail:   "Me@Corp.example",
		Filter:       model.NewDomainFilter("me@corp.example", []string{"hubspot.com", "gmail.com"}, []string{"google.com"}),
		SkipSubjects: []string{"out of office", "slow to respond"},
		MaxMessages:  max,
	})
	return md, dir
}

func TestEmails(t *testing.T) {
	md, dir := newTestMaildir(t, 0)
	at := func(h int) time.Time { return from.Add(time.Duration(h) * time.Hour) }

	writeMessage(t, dir, "cur", "m2", "Me <me@corp.example>", "Alice <alice@acme.com>", "bob@ACME.com, x@globex.io", "Re: rollout", at(11))
	writeMessage(t, dir, "new", "m1", "me@corp.example", "alice@acme.com", "", "=?UTF-8?Q?Caf=C3=A9_plan?=", at(9))
	writeMessage(t, dir, "cur", "internal", "me@corp.example", "colleague@corp.example", "friend@gmail.com", "lunch", at(10))
	writeMessage(t, dir, "cur", "ooo", "me@corp.example", "alice@acme.com", "", "Out of Office: back Monday", at(12))
	writeMessage(t, dir, "cur", "other", "someone@corp.example", "alice@acme.com", "", "fwd", at(13))
	writeMessage(t, dir, "cur", "old", "me@corp.example", "alice@acme.com", "", "old", from.Add(-time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cur", "garbage"), []byte("not a message"), 0o600))

	got, err := md.Emails(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "m1@mail.example", got[0].ID)
	assert.Equal(t, "Café plan", got[0].Label)
	assert.True(t, got[0].Start.Equal(got[0].End))
	assert.Equal(t, model.KindEmail, got[0].Kind)

	assert.Equal(t, "Re: rollout", got[1].Label)
	assert.Equal(t, []string{"acme.com", "globex.io"}, got[1].Domains)
}

func TestEmails_KeepsNewest(t *testing.T) {
	md, dir := newTestMaildir(t, 2)
	for i := 0; i < 4; i++ {
		writeMessage(t, dir, "cur", fmt.Sprintf("m%d", i), "me@corp.example", "alice@acme.com", "", "s", from.Add(time.Duration(i)*time.Hour))
	}

	got, err := md.Emails(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2@mail.example", got[0].ID)
	assert.Equal(t, "m3@mail.example", got[1].ID)
}

func TestEmails_SkipsEmptySubject(t *testing.T) {
	md, dir := newTestMaildir(t, 0)
	writeMessage(t, dir, "cur", "blank", "me@corp.example", "alice@acme.com", "", "", from.Add(time.Hour))
	writeMessage(t, dir, "cur", "spaces", "me@corp.example", "alice@acme.com", "", "=?UTF-8?Q?_?=", from.Add(2*time.Hour))
	writeMessage(t, dir, "cur", "kept", "me@corp.example", "alice@acme.com", "", "Proposal", from.Add(3*time.Hour))

	got, err := md.Emails(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept@mail.example", got[0].ID)
}

func TestEmails_MissingFolder(t *testing.T) {
	md := NewMaildir(filepath.Join(t.TempDir(), "nope"), Options{})
	got, err := md.Emails(context.Background(), from, to)
	require.NoError(t, err)
	assert.Empty(t, got)
}
