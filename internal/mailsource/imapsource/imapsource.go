// Package imapsource speaks the IMAP protocol through go-imap v2. It is
// the generic-provider implementation of mailsource.Source: anything
// with a host, port and password can be synced through it.
package imapsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource"
)

// folderNames maps logical folders to the mailbox names providers
// commonly use. The first name that SELECTs cleanly wins.
var folderNames = map[domain.FolderKind][]string{
	domain.FolderInbox:   {"INBOX"},
	domain.FolderSent:    {"Sent", "Sent Messages", "Sent Items", "[Gmail]/Sent Mail", "INBOX.Sent"},
	domain.FolderDrafts:  {"Drafts", "[Gmail]/Drafts", "INBOX.Drafts"},
	domain.FolderArchive: {"Archive", "Archives", "[Gmail]/All Mail", "INBOX.Archive"},
}

// Source implements mailsource.Source over IMAP.
type Source struct{}

func New() *Source { return &Source{} }

func (s *Source) Kind() domain.ProviderKind { return domain.ProviderIMAP }

// Open dials the account's host, negotiates TLS (implicit or STARTTLS
// by settings), and logs in. A rejected login is a *domain.AuthError.
func (s *Source) Open(ctx context.Context, account *domain.Account, cred mailsource.Credential) (mailsource.Session, error) {
	addr := fmt.Sprintf("%s:%d", account.Connection.Host, account.Connection.Port)

	var client *imapclient.Client
	var err error
	if account.Connection.UseSSL {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(account.EmailAddress, cred.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &domain.AuthError{
			Provider: domain.ProviderIMAP,
			Address:  account.EmailAddress,
			Reason:   err.Error(),
		}
	}

	return &session{client: client, account: account.EmailAddress}, nil
}

type session struct {
	client  *imapclient.Client
	account string
}

// SelectFolder tries each common mailbox name for the logical folder in
// read-only mode. Inbox is mandatory; its absence is an error. Optional
// folders that no candidate name matches are reported absent.
func (s *session) SelectFolder(_ context.Context, kind domain.FolderKind) (bool, error) {
	names, ok := folderNames[kind]
	if !ok {
		return false, fmt.Errorf("unknown folder kind %q", kind)
	}

	for _, name := range names {
		if _, err := s.client.Select(name, &imap.SelectOptions{ReadOnly: true}).Wait(); err == nil {
			return true, nil
		}
	}

	if kind == domain.FolderInbox {
		return false, fmt.Errorf("selecting INBOX for %s failed", s.account)
	}

	logrus.WithFields(logrus.Fields{
		"account": s.account,
		"folder":  kind,
	}).Debug("Folder not present on server, skipping")
	return false, nil
}

// SearchSince runs a UID SEARCH SINCE against the selected folder. IMAP
// SINCE has day granularity; the synchronizer's watermark comparison
// trims the overlap.
func (s *session) SearchSince(_ context.Context, since time.Time) ([]string, error) {
	criteria := &imap.SearchCriteria{Since: since}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := data.AllUIDs()
	refs := make([]string, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, strconv.FormatUint(uint64(uid), 10))
	}
	return refs, nil
}

// Fetch retrieves the full message body for one UID and parses it into
// the provider-agnostic form.
func (s *session) Fetch(_ context.Context, ref string) (*mailsource.ExternalMessage, error) {
	uid, err := strconv.ParseUint(ref, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid message ref %q: %w", ref, err)
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	ext := externalFromBuffer(buf)

	if raw := buf.FindBodySection(bodySection); raw != nil {
		parseMIMEBody(raw, ext)
	}

	if err := fetchCmd.Close(); err != nil {
		return ext, fmt.Errorf("closing fetch: %w", err)
	}
	return ext, nil
}

func (s *session) Close(_ context.Context) error {
	return s.client.Logout().Wait()
}

// externalFromBuffer maps envelope data and flags onto an
// ExternalMessage.
func externalFromBuffer(buf *imapclient.FetchMessageBuffer) *mailsource.ExternalMessage {
	ext := &mailsource.ExternalMessage{
		Headers: make(map[string]string),
	}

	if env := buf.Envelope; env != nil {
		ext.MessageID = env.MessageID
		ext.Subject = env.Subject
		ext.ReceivedAt = env.Date
		ext.SentAt = env.Date

		if len(env.From) > 0 {
			ext.Sender = env.From[0].Addr()
		}
		for _, to := range env.To {
			ext.To = append(ext.To, to.Addr())
		}
		for _, cc := range env.Cc {
			ext.Cc = append(ext.Cc, cc.Addr())
		}
		if env.InReplyTo != nil {
			ext.Headers["In-Reply-To"] = strings.Join(env.InReplyTo, " ")
		}
	}

	for _, flag := range buf.Flags {
		switch flag {
		case imap.FlagSeen:
			ext.Seen = true
		case imap.FlagFlagged:
			ext.Flagged = true
		}
	}

	return ext
}

// parseMIMEBody walks the MIME tree with go-message, filling body text,
// snippet fallback, threading headers, and attachment bytes.
func parseMIMEBody(raw []byte, ext *mailsource.ExternalMessage) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Unparseable MIME: keep the raw text as the body.
		ext.BodyText = string(raw)
		return
	}
	defer mr.Close()

	if refs := mr.Header.Get("References"); refs != "" {
		ext.Headers["References"] = refs
	}
	if irt := mr.Header.Get("In-Reply-To"); irt != "" {
		ext.Headers["In-Reply-To"] = irt
	}

	var htmlBody string

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				if ext.BodyText == "" {
					ext.BodyText = string(body)
				}
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			data, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				logrus.WithError(readErr).WithField("filename", filename).
					Warn("Failed to read attachment part")
				continue
			}
			ext.Attachments = append(ext.Attachments, mailsource.ExternalAttachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(data)),
				Data:        data,
			})
		}
	}

	if ext.BodyText == "" && htmlBody != "" {
		ext.BodyText = stripHTML(htmlBody)
	}
}
