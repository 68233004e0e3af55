package wecom

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Smart-bot message types carried in the decrypted JSON payload.
const (
	MsgTypeText   = "text"
	MsgTypeStream = "stream"
	MsgTypeEvent  = "event"
)

// From identifies the sender of a smart-bot message.
type From struct {
	UserID string `json:"userid"`
}

// Text is the text payload of a smart-bot message.
type Text struct {
	Content string `json:"content"`
}

// StreamRef references an ongoing stream session in a poll request.
type StreamRef struct {
	ID string `json:"id"`
}

// Message is the decrypted smart-bot callback payload.
type Message struct {
	MsgID   string    `json:"msgid"`
	AIBotID string    `json:"aibotid,omitempty"`
	ChatID  string    `json:"chatid,omitempty"`
	From    From      `json:"from"`
	MsgType string    `json:"msgtype"`
	Text    Text      `json:"text,omitempty"`
	Stream  StreamRef `json:"stream,omitempty"`
}

// ParseMessage decodes a decrypted smart-bot payload.
func ParseMessage(plain []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(plain, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &msg, nil
}

// StreamPayload is the stream frame inside a passive reply. Content carries
// the full accumulated text, not a delta.
type StreamPayload struct {
	ID      string `json:"id"`
	Finish  bool   `json:"finish"`
	Content string `json:"content"`
}

// StreamReply is the plaintext passive reply for stream-mode exchanges.
type StreamReply struct {
	MsgType string        `json:"msgtype"`
	Stream  StreamPayload `json:"stream"`
}

// NewStreamReply builds a stream passive reply frame.
func NewStreamReply(streamID, content string, finish bool) StreamReply {
	return StreamReply{
		MsgType: MsgTypeStream,
		Stream: StreamPayload{
			ID:      streamID,
			Finish:  finish,
			Content: content,
		},
	}
}

// EncryptedRequest is the encrypted POST callback body.
type EncryptedRequest struct {
	Encrypt string `json:"encrypt"`
}

// EncryptedResponse is the encrypted passive-reply body.
type EncryptedResponse struct {
	Encrypt      string `json:"encrypt"`
	MsgSignature string `json:"msgsignature"`
	Timestamp    string `json:"timestamp"`
	Nonce        string `json:"nonce"`
}

// EncryptResponse serializes payload to JSON, encrypts it, and signs the
// ciphertext with a fresh timestamp and nonce.
func (c *Crypt) EncryptResponse(payload any) (EncryptedResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return EncryptedResponse{}, err
	}
	encrypted, err := c.Encrypt(body)
	if err != nil {
		return EncryptedResponse{}, err
	}
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	nonce := randomNonce()
	return EncryptedResponse{
		Encrypt:      encrypted,
		MsgSignature: CalcSignature(c.token, timestamp, nonce, encrypted),
		Timestamp:    timestamp,
		Nonce:        nonce,
	}, nil
}

func randomNonce() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
