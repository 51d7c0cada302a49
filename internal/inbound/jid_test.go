package inbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyJID(t *testing.T) {
	cases := map[string]JIDType{
		"5511999990000@s.whatsapp.net": JIDUser,
		"5511999990000@c.us":           JIDUser,
		"120363@g.us":                  JIDGroup,
		"98765@lid":                    JIDLID,
		"status@broadcast":             JIDStatus,
		"12345@broadcast":              JIDBroadcast,
		"1203@newsletter":              JIDNewsletter,
		"abc@call":                     JIDCall,
		"abc@elsewhere":                JIDUnknown,
		"no-server":                    JIDUnknown,
	}
	for jid, want := range cases {
		assert.Equal(t, want, ClassifyJID(jid), jid)
	}
}

func TestJIDUserPart(t *testing.T) {
	assert.Equal(t, "5511999990000", JIDUserPart("5511999990000@s.whatsapp.net"))
	assert.Equal(t, "5511999990000", JIDUserPart("5511999990000:12@s.whatsapp.net"))
	assert.Equal(t, "98765", JIDUserPart("98765_1:3@lid"))
	assert.Equal(t, "", JIDUserPart(""))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "123456789", DigitsOnly("123456789@lid"))
	assert.Equal(t, "5511", DigitsOnly("+55 (11)"))
}

func TestIdentityHelpers(t *testing.T) {
	assert.True(t, Identity{}.Empty())
	assert.Equal(t, "", Identity{}.E164())
	assert.Equal(t, "+5511", Identity{Phone: "5511"}.E164())
	assert.False(t, Identity{SourceID: "1"}.Empty())
}
