package queue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

const (
	DefaultPrefix = "Q"
	labelPad      = 3
	hashLength    = 8
	pathPrefix    = "/queue/"
)

var (
	ErrInvalidFormat = errors.New("invalid queue ticket format")
	ErrInvalidHash   = errors.New("invalid queue ticket hash")
)

var (
	labelPattern  = regexp.MustCompile(`^[A-Z]+(\d+)$`)
	ticketPattern = regexp.MustCompile(`^([A-Z]+\d+)-([a-f0-9]{8})$`)
)

// Codec mints and checks public ticket identifiers of the form
// <label>-<digest>, where digest is keyed on the order id.
type Codec struct {
	secret []byte
	prefix string
}

type TicketURL struct {
	Path string `json:"path"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

type Ticket struct {
	QueueNumber int    `json:"queue_number"`
	Label       string `json:"label"`
	Hash        string `json:"hash"`
}

func NewCodec(secret, prefix string) *Codec {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Codec{secret: []byte(secret), prefix: prefix}
}

// FormatLabel zero-pads n to at least three digits; wider numbers are kept whole.
func FormatLabel(n int, prefix string) string {
	return fmt.Sprintf("%s%0*d", prefix, labelPad, n)
}

func ParseLabel(label string) (int, bool) {
	match := labelPattern.FindStringSubmatch(label)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func ParseTicket(raw string) (Ticket, bool) {
	match := ticketPattern.FindStringSubmatch(raw)
	if match == nil {
		return Ticket{}, false
	}
	n, ok := ParseLabel(match[1])
	if !ok {
		return Ticket{}, false
	}
	return Ticket{QueueNumber: n, Label: match[1], Hash: match[2]}, true
}

func (c *Codec) Prefix() string {
	return c.prefix
}

func (c *Codec) Format(n int) string {
	return FormatLabel(n, c.prefix)
}

// Digest is the first eight hex characters of HMAC-SHA256(secret, orderID).
func (c *Codec) Digest(orderID string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(orderID))
	return hex.EncodeToString(mac.Sum(nil))[:hashLength]
}

// Ticket returns the public identifier without the /queue/ path.
func (c *Codec) Ticket(n int, orderID string) string {
	return c.Format(n) + "-" + c.Digest(orderID)
}

func (c *Codec) MintURL(n int, orderID, baseURL string) TicketURL {
	hash := c.Digest(orderID)
	path := pathPrefix + c.Format(n) + "-" + hash
	url := path
	if baseURL != "" {
		url = baseURL + path
	}
	return TicketURL{Path: path, URL: url, Hash: hash}
}

func (c *Codec) Validate(ticket, orderID string) error {
	parsed, ok := ParseTicket(ticket)
	if !ok {
		return ErrInvalidFormat
	}
	if !hmac.Equal([]byte(parsed.Hash), []byte(c.Digest(orderID))) {
		return ErrInvalidHash
	}
	return nil
}
