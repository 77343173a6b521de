package ami

import (
	"bufio"
	"errors"
	"io"
	"net/textproto"
	"strings"
)

// Field is a single "Key: Value" line of a manager action.
// Order is preserved on the wire and duplicate keys are allowed.
type Field struct {
	Key   string
	Value string
}

// Action is an outbound manager request.
type Action struct {
	Name     string
	ActionID string
	Fields   []Field
}

// NewAction builds an action from alternating key/value pairs.
func NewAction(name string, kv ...string) Action {
	a := Action{Name: name}
	for i := 0; i+1 < len(kv); i += 2 {
		a.Fields = append(a.Fields, Field{Key: kv[i], Value: kv[i+1]})
	}
	return a
}

// Set appends a field to the action.
func (a *Action) Set(key, value string) {
	a.Fields = append(a.Fields, Field{Key: key, Value: value})
}

// Get returns the first value for key, or "".
func (a Action) Get(key string) string {
	for _, f := range a.Fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

func (a Action) writeTo(w *bufio.Writer) error {
	if a.Name == "" {
		return errors.New("ami: action name required")
	}
	writeLine(w, "Action", a.Name)
	if a.ActionID != "" {
		writeLine(w, "ActionID", a.ActionID)
	}
	for _, f := range a.Fields {
		writeLine(w, f.Key, sanitize(f.Value))
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeLine(w *bufio.Writer, key, value string) {
	w.WriteString(key)
	w.WriteString(": ")
	w.WriteString(value)
	w.WriteString("\r\n")
}

// sanitize keeps a value on one line so it cannot inject extra fields.
func sanitize(v string) string {
	if !strings.ContainsAny(v, "\r\n") {
		return v
	}
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// Message is an inbound response or event. Keys are matched case-insensitively.
type Message struct {
	fields map[string]string
}

// NewMessage builds a message from alternating key/value pairs.
func NewMessage(kv ...string) Message {
	m := Message{fields: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		m.fields[strings.ToLower(kv[i])] = kv[i+1]
	}
	return m
}

func (m Message) Get(key string) string {
	if m.fields == nil {
		return ""
	}
	return m.fields[strings.ToLower(key)]
}

func (m Message) Has(key string) bool {
	_, ok := m.fields[strings.ToLower(key)]
	return ok
}

func (m Message) ActionID() string { return m.Get("ActionID") }
func (m Message) Event() string    { return m.Get("Event") }
func (m Message) Response() string { return m.Get("Response") }

// IsSuccess reports an explicit success acknowledgement.
func (m Message) IsSuccess() bool { return strings.EqualFold(m.Response(), "Success") }

// Fields returns a copy of the message fields keyed by lowercase name.
func (m Message) Fields() map[string]string {
	out := make(map[string]string, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out
}

// readMessage reads one blank-line terminated block. Lines without a colon are
// skipped (e.g. the payload of "Response: Follows").
func readMessage(r *textproto.Reader) (Message, error) {
	m := Message{fields: map[string]string{}}
	for {
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(m.fields) > 0 {
				return m, io.ErrUnexpectedEOF
			}
			return Message{}, err
		}
		if line == "" {
			if len(m.fields) == 0 {
				continue
			}
			return m, nil
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:i]))
		if _, dup := m.fields[key]; dup {
			continue
		}
		m.fields[key] = strings.TrimSpace(line[i+1:])
	}
}
