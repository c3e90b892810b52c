// Package gmailsource implements mailsource.Source against the Gmail
// REST API for Google OAuth accounts.
package gmailsource

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource"
)

const me = "me"

// labelFor maps logical folders onto Gmail system labels. Gmail has no
// archive label: archived mail is just mail without INBOX, so the
// archive folder is reported absent.
var labelFor = map[domain.FolderKind]string{
	domain.FolderInbox:  "INBOX",
	domain.FolderSent:   "SENT",
	domain.FolderDrafts: "DRAFT",
}

// Source implements mailsource.Source for Gmail.
type Source struct{}

func New() *Source { return &Source{} }

func (s *Source) Kind() domain.ProviderKind { return domain.ProviderGoogle }

// Open builds a Gmail service around the account's access token. The
// API rejecting the token surfaces later as a 401 on the first call;
// Open itself only fails on client construction.
func (s *Source) Open(ctx context.Context, account *domain.Account, cred mailsource.Credential) (mailsource.Session, error) {
	if cred.AccessToken == "" {
		return nil, &domain.AuthError{
			Provider: domain.ProviderGoogle,
			Address:  account.EmailAddress,
			Reason:   "no access token",
		}
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &session{svc: svc, account: account.EmailAddress}, nil
}

type session struct {
	svc     *gmail.Service
	account string
	label   string
}

func (s *session) SelectFolder(_ context.Context, kind domain.FolderKind) (bool, error) {
	label, ok := labelFor[kind]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"account": s.account,
			"folder":  kind,
		}).Debug("Folder has no Gmail label equivalent, skipping")
		return false, nil
	}
	s.label = label
	return true, nil
}

// SearchSince lists message ids in the selected label received after
// since, using Gmail's after: query operator.
func (s *session) SearchSince(ctx context.Context, since time.Time) ([]string, error) {
	query := fmt.Sprintf("after:%d", since.Unix())
	call := s.svc.Users.Messages.List(me).
		LabelIds(s.label).
		Q(query).
		IncludeSpamTrash(false).
		MaxResults(500)

	var refs []string
	err := call.Pages(ctx, func(page *gmail.ListMessagesResponse) error {
		for _, m := range page.Messages {
			refs = append(refs, m.Id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return refs, nil
}

// Fetch pulls one full message and its attachment bodies.
func (s *session) Fetch(_ context.Context, ref string) (*mailsource.ExternalMessage, error) {
	m, err := s.svc.Users.Messages.Get(me, ref).Format("full").Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", ref, err)
	}

	ext := &mailsource.ExternalMessage{
		MessageID:  m.Id,
		ThreadID:   m.ThreadId,
		Snippet:    m.Snippet,
		ReceivedAt: time.UnixMilli(m.InternalDate),
		Headers:    make(map[string]string),
	}

	ext.Seen = !hasLabel(m.LabelIds, "UNREAD")
	ext.Flagged = hasLabel(m.LabelIds, "STARRED")

	if m.Payload != nil {
		for _, kv := range m.Payload.Headers {
			ext.Headers[kv.Name] = kv.Value
		}
		ext.Subject = ext.Headers["Subject"]
		ext.Sender = firstAddr(ext.Headers["From"])
		ext.To = splitAddrs(ext.Headers["To"])
		ext.Cc = splitAddrs(ext.Headers["Cc"])
		if dateHeader := ext.Headers["Date"]; dateHeader != "" {
			if sent, err := time.Parse(time.RFC1123Z, dateHeader); err == nil {
				ext.SentAt = sent
			}
		}

		s.walkParts(m.Payload, ref, ext)
	}

	return ext, nil
}

func (s *session) Close(_ context.Context) error { return nil }

// walkParts recursively visits MIME parts collecting body text and
// attachment bytes.
func (s *session) walkParts(part *gmail.MessagePart, msgID string, ext *mailsource.ExternalMessage) {
	if part.Filename != "" && part.Body != nil {
		data, err := s.attachmentData(msgID, part)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"message":  msgID,
				"filename": part.Filename,
			}).Warn("Failed to download attachment")
		} else {
			ext.Attachments = append(ext.Attachments, mailsource.ExternalAttachment{
				Filename:    part.Filename,
				ContentType: part.MimeType,
				Size:        int64(len(data)),
				Data:        data,
				ProviderID:  part.Body.AttachmentId,
			})
		}
	} else if part.Body != nil && part.Body.Data != "" {
		if body, err := decodeBase64URL(part.Body.Data); err == nil {
			switch {
			case strings.HasPrefix(part.MimeType, "text/plain") && ext.BodyText == "":
				ext.BodyText = string(body)
			case strings.HasPrefix(part.MimeType, "text/html") && ext.BodyText == "":
				// HTML only; keep it raw, the analyzer copes.
				ext.BodyText = string(body)
			}
		}
	}

	for _, child := range part.Parts {
		s.walkParts(child, msgID, ext)
	}
}

// attachmentData returns the attachment bytes, fetching through the
// attachments endpoint when the part only carries a reference.
func (s *session) attachmentData(msgID string, part *gmail.MessagePart) ([]byte, error) {
	if part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}
	if part.Body.AttachmentId == "" {
		return nil, fmt.Errorf("attachment part has no data and no id")
	}

	body, err := s.svc.Users.Messages.Attachments.Get(me, msgID, part.Body.AttachmentId).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return decodeBase64URL(body.Data)
}

// decodeBase64URL handles both padded and unpadded web-safe base64,
// which Gmail is inconsistent about.
func decodeBase64URL(data string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(data)
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

// splitAddrs parses comma-separated email addresses.
func splitAddrs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func firstAddr(s string) string {
	addrs := splitAddrs(s)
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}
