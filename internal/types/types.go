package types

// RoomKey identifies one broadcast-and-history scope. ChatId may be empty
// for single-room-per-organization deployments, in which case the
// organization id alone is the key.
type RoomKey struct {
	OrganizationId string `json:"organization_id"`
	ChatId         string `json:"chat_id,omitempty"`
}

func (k RoomKey) String() string {
	if k.ChatId == "" {
		return k.OrganizationId
	}
	return k.OrganizationId + ":" + k.ChatId
}

// Message is immutable once created. Timestamp is assigned by the relay at
// receipt time, in milliseconds since the epoch, so ordering across senders
// is server-authoritative. CorrelationId is an opaque client-generated id
// echoed back verbatim so the sender can reconcile its optimistic copy.
type Message struct {
	Text          string `json:"text"`
	Sender        string `json:"sender"`
	Timestamp     int64  `json:"timestamp"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

// ChatHistory is the ordered message sequence for one room, insertion order
// equal to arrival order at the relay.
type ChatHistory struct {
	Messages []Message `json:"messages"`
}

// OrganizationHistory maps chat ids to their histories for one organization.
type OrganizationHistory struct {
	Chats map[string]ChatHistory `json:"chats"`
}

type User struct {
	Id           int    `json:"id"`
	Username     string `json:"username"`
	EmailAddress string `json:"email_address,omitempty"`
	Password     string `json:"-"`
}
