package inbound

import "strings"

// JID servers as used by WhatsApp multi-device transports.
const (
	ServerUser       = "s.whatsapp.net"
	ServerLegacyUser = "c.us"
	ServerGroup      = "g.us"
	ServerLID        = "lid"
	ServerBroadcast  = "broadcast"
	ServerNewsletter = "newsletter"
	ServerCall       = "call"
)

// JIDType classifies an address by its server part.
type JIDType string

const (
	JIDUser       JIDType = "user"
	JIDGroup      JIDType = "group"
	JIDLID        JIDType = "lid"
	JIDStatus     JIDType = "status"
	JIDBroadcast  JIDType = "broadcast"
	JIDNewsletter JIDType = "newsletter"
	JIDCall       JIDType = "call"
	JIDUnknown    JIDType = "unknown"
)

// ClassifyJID maps "user@server" to its JIDType.
func ClassifyJID(jid string) JIDType {
	server := jid
	if i := strings.LastIndex(jid, "@"); i >= 0 {
		server = jid[i+1:]
	}
	switch server {
	case ServerUser, ServerLegacyUser:
		return JIDUser
	case ServerGroup:
		return JIDGroup
	case ServerLID:
		return JIDLID
	case ServerBroadcast:
		if strings.HasPrefix(jid, "status@") {
			return JIDStatus
		}
		return JIDBroadcast
	case ServerNewsletter:
		return JIDNewsletter
	case ServerCall:
		return JIDCall
	}
	return JIDUnknown
}

// JIDUserPart returns the user part of "user[_agent][:device]@server".
func JIDUserPart(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	user, _, _ = strings.Cut(user, "_")
	return user
}

// DigitsOnly strips every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
