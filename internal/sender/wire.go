package sender

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cobeio/entityd-sub000/internal/entity"
)

// ProtocolVersion is the fixed tag identifying the wire format. The
// transport prepends it to the msgpack payload, and the two are published
// together as the body of a single NATS message.
var ProtocolVersion = []byte("streamapi/5")

type wireAttr struct {
	Value   interface{} `msgpack:"value,omitempty"`
	Traits  []string    `msgpack:"traits,omitempty"`
	Deleted bool        `msgpack:"deleted,omitempty"`
}

type wireEntity struct {
	Type      string              `msgpack:"type"`
	UEID      string              `msgpack:"ueid"`
	Timestamp time.Time           `msgpack:"timestamp"`
	TTL       float64             `msgpack:"ttl"`
	Exists    *bool               `msgpack:"exists,omitempty"`
	Attrs     map[string]wireAttr `msgpack:"attrs,omitempty"`
	Parents   []string            `msgpack:"parents,omitempty"`
	Children  []string            `msgpack:"children,omitempty"`
	Label     string              `msgpack:"label,omitempty"`
}

// encodeEntity serialises u to its msgpack payload. send, when non-nil,
// restricts the live-attribute set to the names delta optimisation decided
// to include this cycle; deleted attribute names are always carried
// regardless of send, since their absence is itself information.
func encodeEntity(u *entity.Update, send map[string]struct{}) ([]byte, error) {
	if !u.Exists() {
		exists := false
		return msgpack.Marshal(wireEntity{
			Type:      u.Type(),
			UEID:      u.UEID().Hex(),
			Timestamp: u.Timestamp(),
			TTL:       u.TTL().Seconds(),
			Exists:    &exists,
		})
	}

	we := wireEntity{
		Type:      u.Type(),
		UEID:      u.UEID().Hex(),
		Timestamp: u.Timestamp(),
		TTL:       u.TTL().Seconds(),
		Attrs:     make(map[string]wireAttr),
	}
	for _, name := range u.Attrs().Names() {
		if u.Attrs().IsDeleted(name) {
			we.Attrs[name] = wireAttr{Deleted: true}
			continue
		}
		if send != nil {
			if _, ok := send[name]; !ok {
				continue
			}
		}
		value, traits, _ := u.Attrs().Get(name)
		we.Attrs[name] = wireAttr{Value: value, Traits: traits.List()}
	}
	for _, p := range u.Parents().List() {
		we.Parents = append(we.Parents, p.Hex())
	}
	for _, c := range u.Children().List() {
		we.Children = append(we.Children, c.Hex())
	}
	if label, ok := u.Label(); ok {
		we.Label = label
	}
	return msgpack.Marshal(we)
}
