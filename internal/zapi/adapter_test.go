package zapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/payload"
)

func TestEvents(t *testing.T) {
	a := NewAdapter()
	assert.Len(t, a.Events(payload.MustParse(`{"messageId":"m1"}`)), 1)
	assert.Len(t, a.Events(payload.MustParse(`[{"messageId":"m1"},{"messageId":"m2"}]`)), 2)
}

func TestAccept(t *testing.T) {
	a := NewAdapter()
	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"message", `{"type":"ReceivedCallback","messageId":"m1","phone":"5511987654321"}`, true},
		{"untyped", `{"messageId":"m1","phone":"5511987654321"}`, true},
		{"status callback", `{"type":"MessageStatusCallback","messageId":"m1"}`, false},
		{"group", `{"messageId":"m1","isGroup":true}`, false},
		{"newsletter", `{"messageId":"m1","isNewsletter":true}`, false},
		{"broadcast", `{"messageId":"m1","broadcast":true}`, false},
		{"status reply", `{"messageId":"m1","isStatusReply":true}`, false},
		{"notification", `{"messageId":"m1","notification":"GROUP_CREATE"}`, false},
		{"edit without id", `{"messageId":"m1","isEdit":true}`, false},
		{"no id", `{"phone":"5511987654321"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, a.Accept(payload.MustParse(tc.raw)))
		})
	}
}

func TestClassify_Text(t *testing.T) {
	ds := NewAdapter().Classify(payload.MustParse(`{"messageId":"m1","phone":"5511987654321","momment":1700000000123,"referenceMessageId":"q1","text":{"message":"hi"}}`))
	require.Len(t, ds, 1)
	d := ds[0]
	assert.Equal(t, inbound.KindText, d.Kind)
	assert.Equal(t, "hi", d.ContentString())
	assert.Equal(t, "m1", d.SourceID)
	assert.Equal(t, "q1", d.ReplyTo)
	assert.Equal(t, int64(1700000000), d.Timestamp)
	assert.True(t, d.Incoming())
}

func TestClassify_OutgoingImage(t *testing.T) {
	d := NewAdapter().Classify(payload.MustParse(`{"messageId":"m2","fromMe":true,"image":{"caption":"pic","imageUrl":"https://cdn/x.jpg","mimeType":"image/jpeg"}}`))[0]
	assert.Equal(t, inbound.KindImage, d.Kind)
	assert.Equal(t, "pic", d.ContentString())
	assert.Equal(t, inbound.DirectionOut, d.Direction)
}

func TestClassify_AudioHasNoContent(t *testing.T) {
	d := NewAdapter().Classify(payload.MustParse(`{"messageId":"m3","audio":{"audioUrl":"https://cdn/a.ogg"}}`))[0]
	assert.Equal(t, inbound.KindAudio, d.Kind)
	assert.Nil(t, d.Content)
}

func TestClassify_Reaction(t *testing.T) {
	d := NewAdapter().Classify(payload.MustParse(`{"messageId":"m4","referenceMessageId":"ignored","reaction":{"value":"❤️","referencedMessage":{"messageId":"target"}}}`))[0]
	assert.Equal(t, inbound.KindReaction, d.Kind)
	assert.True(t, d.IsReaction)
	assert.Equal(t, "target", d.ReplyTo)
	assert.Equal(t, "❤️", d.ContentString())
	assert.False(t, d.Ignore)
}

func TestClassify_EmptyReactionKept(t *testing.T) {
	d := NewAdapter().Classify(payload.MustParse(`{"messageId":"m4","reaction":{"value":"","referencedMessage":{"messageId":"target"}}}`))[0]
	assert.False(t, d.Ignore)
	require.NotNil(t, d.Content)
	assert.Equal(t, "", *d.Content)
}

func TestClassify_Edit(t *testing.T) {
	d := NewAdapter().Classify(payload.MustParse(`{"messageId":"orig","editMessageId":"edit-1","isEdit":true,"text":{"message":"fixed"}}`))[0]
	assert.True(t, d.IsEdit)
	assert.Equal(t, "orig", d.EditTarget)
	assert.Equal(t, "edit-1", d.SourceID)
	assert.Equal(t, "fixed", d.ContentString())
}

func TestClassify_ContactFansOut(t *testing.T) {
	ds := NewAdapter().Classify(payload.MustParse(`{"messageId":"c1","contact":{"displayName":"Ana Maria Silva","phones":["5511911112222","5511933334444"]}}`))
	require.Len(t, ds, 2)
	for _, d := range ds {
		assert.Equal(t, inbound.KindContactCard, d.Kind)
		assert.Equal(t, "c1", d.SourceID)
		assert.Equal(t, "Ana Maria Silva", d.ContentString())
		require.NotNil(t, d.Contact)
		assert.Equal(t, "Ana", d.Contact.FirstName)
		assert.Equal(t, "Maria Silva", d.Contact.LastName)
	}
	assert.Equal(t, "5511911112222", ds[0].Contact.Phone)
	assert.Equal(t, "5511933334444", ds[1].Contact.Phone)
}

func TestClassify_ContactWithoutPhones(t *testing.T) {
	ds := NewAdapter().Classify(payload.MustParse(`{"messageId":"c2","contact":{"displayName":"Bob"}}`))
	require.Len(t, ds, 1)
	assert.Equal(t, NoPhonePlaceholder, ds[0].Contact.Phone)
	assert.Equal(t, "Bob", ds[0].Contact.FirstName)
	assert.Empty(t, ds[0].Contact.LastName)
}

func TestClassify_Unsupported(t *testing.T) {
	d := NewAdapter().Classify(payload.MustParse(`{"messageId":"p1","poll":{"question":"?"}}`))[0]
	assert.Equal(t, inbound.KindUnsupported, d.Kind)
	assert.Nil(t, d.Content)
}

func TestExtractIdentity(t *testing.T) {
	id, err := NewAdapter().ExtractIdentity(payload.MustParse(`{"phone":"5511987654321","chatLid":"123@lid","senderName":"Maria"}`))
	require.NoError(t, err)
	assert.Equal(t, "5511987654321", id.Phone)
	assert.Equal(t, "+5511987654321", id.E164())
	assert.Equal(t, "123", id.SourceID)
	assert.Equal(t, "123@lid", id.Identifier)
	assert.Equal(t, "Maria", id.Name)
	assert.True(t, id.MigrateByPhoneOwner)
}

func TestExtractIdentity_PhoneIsLID(t *testing.T) {
	id, err := NewAdapter().ExtractIdentity(payload.MustParse(`{"phone":"456@lid","chatName":"Joao"}`))
	require.NoError(t, err)
	assert.Empty(t, id.Phone)
	assert.Equal(t, "456", id.SourceID)
	assert.Equal(t, "456@lid", id.Identifier)
	assert.Equal(t, "Joao", id.Name)
}

func TestExtractIdentity_NameFallsBackToPhone(t *testing.T) {
	id, err := NewAdapter().ExtractIdentity(payload.MustParse(`{"phone":"5511987654321"}`))
	require.NoError(t, err)
	assert.Equal(t, "5511987654321", id.Name)
	assert.Empty(t, id.SourceID)
}

func TestExtractIdentity_Empty(t *testing.T) {
	_, err := NewAdapter().ExtractIdentity(payload.MustParse(`{"messageId":"m1"}`))
	assert.ErrorIs(t, err, inbound.ErrNoIdentity)
}

func TestBuildMediaRef(t *testing.T) {
	a := NewAdapter()
	ev := payload.MustParse(`{"messageId":"d1","document":{"documentUrl":"https://cdn/f.pdf","mimeType":"application/pdf","fileName":"report.pdf"}}`)
	d := a.Classify(ev)[0]

	ref, err := a.BuildMediaRef(ev, d)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/f.pdf", ref.URL)
	assert.Equal(t, "application/pdf", ref.MimeType)
	assert.Equal(t, "report.pdf", ref.FileName)

	_, err = a.BuildMediaRef(ev, inbound.Descriptor{Kind: inbound.KindText})
	assert.Error(t, err)
}

func TestSerialKeyAndAvatar(t *testing.T) {
	a := NewAdapter()
	ev := payload.MustParse(`{"phone":"5511987654321","senderPhoto":"https://pps.whatsapp.net/a.jpg","photo":"https://pps.whatsapp.net/b.jpg"}`)
	assert.Equal(t, "ZAPI::CONTACT_LOCK::5511987654321", a.SerialKey(ev, inbound.Descriptor{}))
	assert.Equal(t, "https://pps.whatsapp.net/a.jpg", a.AvatarURL(context.Background(), ev, inbound.Identity{}, false))

	noPhoto := payload.MustParse(`{"phone":"1","senderPhoto":null,"photo":"not-a-url"}`)
	assert.Empty(t, a.AvatarURL(context.Background(), noPhoto, inbound.Identity{}, false))
}
