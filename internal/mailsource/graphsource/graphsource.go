// Package graphsource implements mailsource.Source against Microsoft
// Graph for Microsoft OAuth accounts.
package graphsource

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	graphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"github.com/sirupsen/logrus"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource"
)

// wellKnownFolder maps logical folders to Graph's well-known folder
// names, all four of which exist on every Exchange mailbox.
var wellKnownFolder = map[domain.FolderKind]string{
	domain.FolderInbox:   "inbox",
	domain.FolderSent:    "sentitems",
	domain.FolderDrafts:  "drafts",
	domain.FolderArchive: "archive",
}

var messageSelect = []string{
	"id", "internetMessageId", "conversationId", "subject", "from",
	"toRecipients", "ccRecipients", "bodyPreview", "body", "isRead",
	"flag", "hasAttachments", "receivedDateTime", "sentDateTime",
	"internetMessageHeaders",
}

// Source implements mailsource.Source for Microsoft Graph.
type Source struct{}

func New() *Source { return &Source{} }

func (s *Source) Kind() domain.ProviderKind { return domain.ProviderMicrosoft }

// Open builds a Graph client around the account's access token.
func (s *Source) Open(_ context.Context, account *domain.Account, cred mailsource.Credential) (mailsource.Session, error) {
	if cred.AccessToken == "" {
		return nil, &domain.AuthError{
			Provider: domain.ProviderMicrosoft,
			Address:  account.EmailAddress,
			Reason:   "no access token",
		}
	}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(
		&staticTokenCredential{token: cred.AccessToken}, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}

	return &session{client: client, user: account.EmailAddress}, nil
}

type session struct {
	client *msgraphsdk.GraphServiceClient
	user   string
	folder string
}

// SelectFolder records the well-known folder id for subsequent calls.
// All four logical folders map to well-known names that Graph
// guarantees, so none is reported absent.
func (s *session) SelectFolder(_ context.Context, kind domain.FolderKind) (bool, error) {
	name, ok := wellKnownFolder[kind]
	if !ok {
		return false, fmt.Errorf("unknown folder kind %q", kind)
	}
	s.folder = name
	return true, nil
}

// SearchSince lists message ids in the selected folder received after
// since, paging through the collection.
func (s *session) SearchSince(ctx context.Context, since time.Time) ([]string, error) {
	filter := fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339))
	requestConfig := &users.ItemMailFoldersItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMailFoldersItemMessagesRequestBuilderGetQueryParameters{
			Filter:  &filter,
			Top:     int32Ptr(100),
			Select:  []string{"id"},
			Orderby: []string{"receivedDateTime asc"},
		},
	}

	result, err := s.client.Users().ByUserId(s.user).
		MailFolders().ByMailFolderId(s.folder).
		Messages().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var refs []string
	pageIterator, err := graphcore.NewPageIterator[models.Messageable](
		result, s.client.GetAdapter(),
		models.CreateMessageCollectionResponseFromDiscriminatorValue)
	if err != nil {
		return nil, fmt.Errorf("failed to create page iterator: %w", err)
	}

	err = pageIterator.Iterate(ctx, func(msg models.Messageable) bool {
		if id := msg.GetId(); id != nil {
			refs = append(refs, *id)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to page messages: %w", err)
	}
	return refs, nil
}

// Fetch retrieves one full message, downloading file attachments.
func (s *session) Fetch(ctx context.Context, ref string) (*mailsource.ExternalMessage, error) {
	requestConfig := &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{
			Select: messageSelect,
		},
	}

	m, err := s.client.Users().ByUserId(s.user).
		Messages().ByMessageId(ref).Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", ref, err)
	}

	ext := normalize(m)

	if hasAtt := m.GetHasAttachments(); hasAtt != nil && *hasAtt {
		atts, err := s.fetchAttachments(ctx, ref)
		if err != nil {
			logrus.WithError(err).WithField("message", ref).
				Warn("Failed to download attachments")
		} else {
			ext.Attachments = atts
		}
	}

	return ext, nil
}

func (s *session) Close(_ context.Context) error { return nil }

func (s *session) fetchAttachments(ctx context.Context, ref string) ([]mailsource.ExternalAttachment, error) {
	result, err := s.client.Users().ByUserId(s.user).
		Messages().ByMessageId(ref).Attachments().Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	var out []mailsource.ExternalAttachment
	for _, att := range result.GetValue() {
		file, ok := att.(models.FileAttachmentable)
		if !ok {
			// Item and reference attachments carry no raw bytes.
			continue
		}
		ea := mailsource.ExternalAttachment{Data: file.GetContentBytes()}
		ea.Size = int64(len(ea.Data))
		if name := file.GetName(); name != nil {
			ea.Filename = *name
		}
		if ct := file.GetContentType(); ct != nil {
			ea.ContentType = *ct
		}
		if id := file.GetId(); id != nil {
			ea.ProviderID = *id
		}
		out = append(out, ea)
	}
	return out, nil
}

// normalize converts a Graph message to the provider-agnostic form.
// The RFC internet message id is preferred as the stable dedup key;
// Graph's own id changes when a message moves between folders.
func normalize(m models.Messageable) *mailsource.ExternalMessage {
	ext := &mailsource.ExternalMessage{Headers: make(map[string]string)}

	if imid := m.GetInternetMessageId(); imid != nil && *imid != "" {
		ext.MessageID = *imid
	} else if id := m.GetId(); id != nil {
		ext.MessageID = *id
	}
	if convID := m.GetConversationId(); convID != nil {
		ext.ThreadID = *convID
	}
	if subject := m.GetSubject(); subject != nil {
		ext.Subject = *subject
	}
	if from := m.GetFrom(); from != nil {
		if emailAddr := from.GetEmailAddress(); emailAddr != nil {
			if addr := emailAddr.GetAddress(); addr != nil {
				ext.Sender = *addr
			}
		}
	}
	ext.To = extractAddresses(m.GetToRecipients())
	ext.Cc = extractAddresses(m.GetCcRecipients())

	if preview := m.GetBodyPreview(); preview != nil {
		ext.Snippet = *preview
	}
	if body := m.GetBody(); body != nil {
		if content := body.GetContent(); content != nil {
			ext.BodyText = *content
		}
	}
	if isRead := m.GetIsRead(); isRead != nil {
		ext.Seen = *isRead
	}
	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		ext.ReceivedAt = *rcvd
	}
	if sent := m.GetSentDateTime(); sent != nil {
		ext.SentAt = *sent
	}
	for _, h := range m.GetInternetMessageHeaders() {
		if name := h.GetName(); name != nil {
			if value := h.GetValue(); value != nil {
				ext.Headers[*name] = *value
			}
		}
	}

	return ext
}

func extractAddresses(recipients []models.Recipientable) []string {
	var addrs []string
	for _, r := range recipients {
		if emailAddr := r.GetEmailAddress(); emailAddr != nil {
			if addr := emailAddr.GetAddress(); addr != nil {
				addrs = append(addrs, *addr)
			}
		}
	}
	return addrs
}

// staticTokenCredential adapts an already-resolved access token to the
// Azure credential interface the Graph client wants.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(time.Hour),
	}, nil
}

func int32Ptr(i int32) *int32 { return &i }
