package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/identity"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store/postgres"
)

func setupStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}
	ctx := context.Background()
	if _, err := postgres.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := postgres.Open(ctx, dsn, 8)
	if err != nil {
		t.Skipf("skip integration test: %v", err)
	}
	t.Cleanup(pool.Close)
	return postgres.New(pool)
}

// uniqueChannel keeps runs isolated without truncating tables.
func uniqueChannel() inbound.Channel {
	n := time.Now().UnixNano()
	return inbound.Channel{InboxID: n, AccountID: n, Provider: inbound.ProviderZAPI}
}

func TestPostgres_ResolveAndMessages(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ch := uniqueChannel()
	r := identity.NewResolver(nil, s)

	res, err := r.Resolve(ctx, ch, inbound.Identity{Phone: "5511987654321", SourceID: "123", Identifier: "123@lid", Name: "Maria"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "+5511987654321", res.Contact.PhoneNumber)

	conv, err := s.FindOrCreateConversation(ctx, res.Link, ch.AccountID)
	require.NoError(t, err)
	again, err := s.FindOrCreateConversation(ctx, res.Link, ch.AccountID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	content := "hi"
	msg := store.Message{
		AccountID: ch.AccountID, InboxID: ch.InboxID, ConversationID: conv.ID, SourceID: "m1",
		Content: &content, Direction: inbound.DirectionIn, SenderType: store.SenderContact, SenderID: res.Contact.ID,
		Attributes:  store.ContentAttributes{ExternalCreatedAt: 1700000000, InReplyToExternalID: "q1"},
		Attachments: []store.Attachment{{FileType: store.FileContact, FallbackTitle: "5511", Meta: map[string]any{"firstName": "Ana"}}},
	}
	require.NoError(t, s.CreateMessage(ctx, &msg))

	exists, err := s.MessageExists(ctx, ch.InboxID, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	found, err := s.FindMessage(ctx, ch.InboxID, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hi", *found.Content)
	assert.Equal(t, "q1", found.Attributes.InReplyToExternalID)
	require.Len(t, found.Attachments, 1)
	assert.Equal(t, "Ana", found.Attachments[0].Meta["firstName"])

	edited := "hello"
	m, err := s.EditMessage(ctx, ch.InboxID, "m1", &edited)
	require.NoError(t, err)
	assert.True(t, m.Attributes.IsEdited)
	assert.Equal(t, "hi", *m.Attributes.PreviousContent)

	_, err = s.EditMessage(ctx, ch.InboxID, "missing", &edited)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SetContactAvatar(ctx, res.Contact.ID, "attachments/avatars/x.jpg"))
	c, err := s.GetContact(ctx, res.Contact.ID)
	require.NoError(t, err)
	assert.Equal(t, "attachments/avatars/x.jpg", c.AvatarURL)
}

func TestPostgres_ConcurrentResolveCreatesOneContact(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ch := uniqueChannel()
	r := identity.NewResolver(nil, s)
	id := inbound.Identity{Phone: "5511987654321", SourceID: uuid.NewString(), Identifier: "x@lid", Name: "Maria"}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(ctx, ch, id)
			ids[i], errs[i] = res.Contact.ID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}
