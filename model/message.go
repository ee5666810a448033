package model

// Message is one parsed mail file. Header fields are empty when the header
// was absent; Body is only meaningful when HasBody is set.
type Message struct {
	MessageID               string `json:"message_id,omitempty"`
	Date                    string `json:"date,omitempty"`
	From                    string `json:"from,omitempty"`
	To                      string `json:"to,omitempty"`
	Subject                 string `json:"subject,omitempty"`
	MimeVersion             string `json:"mime_version,omitempty"`
	ContentType             string `json:"content_type,omitempty"`
	ContentTransferEncoding string `json:"content_transfer_encoding,omitempty"`
	XFrom                   string `json:"x_from,omitempty"`
	XTo                     string `json:"x_to,omitempty"`
	XCc                     string `json:"x_cc,omitempty"`
	XBcc                    string `json:"x_bcc,omitempty"`
	XFolder                 string `json:"x_folder,omitempty"`
	XOrigin                 string `json:"x_origin,omitempty"`
	XFileName               string `json:"x_filename,omitempty"`

	Body    string `json:"body,omitempty"`
	HasBody bool   `json:"has_body"`

	// Owner is the mailbox folder the file was found under.
	Owner string `json:"owner,omitempty"`
}

// Envelope wraps raw message text read by a corpus source alongside an
// optional error encountered while reading it.
type Envelope struct {
	Seq    int
	Source string
	Owner  string
	Raw    []byte
	// Parsed is set by sources that already hold parsed records (the cache).
	Parsed *Message
	Err    error
}

// Scored is a message with the scores derived from it.
type Scored struct {
	Seq     int
	Message Message

	FraudContextScore float64
	ExecCommScore     float64
	CriticalPeriod    bool
	FraudScore        float64
}
