package cluster

import (
	"github.com/google/uuid"

	"github.com/dmitrymomot/rproxy/core/letsencrypt"
)

// Type tags a Message.
type Type string

const (
	TypeStatistics  Type = "statistics"
	TypeCertificate Type = "certificate"
	TypeLetsEncrypt Type = "letsEncrypt"

	// TypeControl carries worker lifecycle events between a worker and the master.
	TypeControl Type = "cluster"
)

// Actions.
const (
	ActionUpdateCount       = "updateCount"
	ActionUpdateCertificate = "updateCertificate"
	ActionAddChallenge      = letsencrypt.ChallengeAdd
	ActionRemoveChallenge   = letsencrypt.ChallengeRemove
	ActionOnline            = "online"
	ActionDisconnect        = "disconnect"
)

// Message is the envelope exchanged between workers and the master.
// Only the fields relevant to MessageType are set.
type Message struct {
	ID          uuid.UUID `json:"id"`
	MessageType Type      `json:"messageType"`
	Action      string    `json:"action"`
	WorkerID    string    `json:"workerId,omitempty"`

	// statistics
	Name  string `json:"name,omitempty"`
	Delta int64  `json:"delta,omitempty"`

	// certificate and letsEncrypt
	Host string `json:"host,omitempty"`

	// certificate
	Key  string `json:"key,omitempty"`
	Cert string `json:"cert,omitempty"`
	CA   string `json:"ca,omitempty"`

	// letsEncrypt
	Token            string `json:"token,omitempty"`
	KeyAuthorization string `json:"keyAuthorization,omitempty"`
}

func newMessage(t Type, action, workerID string) Message {
	return Message{ID: uuid.New(), MessageType: t, Action: action, WorkerID: workerID}
}

// StatisticsMessage reports a counter change.
func StatisticsMessage(workerID, name string, delta int64) Message {
	m := newMessage(TypeStatistics, ActionUpdateCount, workerID)
	m.Name = name
	m.Delta = delta
	return m
}

// CertificateMessage carries newly issued PEM material for host.
func CertificateMessage(workerID, host string, key, cert, ca []byte) Message {
	m := newMessage(TypeCertificate, ActionUpdateCertificate, workerID)
	m.Host = host
	m.Key = string(key)
	m.Cert = string(cert)
	m.CA = string(ca)
	return m
}

// ChallengeMessage adds or removes an outstanding http-01 challenge.
func ChallengeMessage(workerID, action string, c letsencrypt.Challenge) Message {
	m := newMessage(TypeLetsEncrypt, action, workerID)
	m.Host = c.Host
	m.Token = c.Token
	m.KeyAuthorization = c.KeyAuthorization
	return m
}

// ControlMessage reports a worker lifecycle event.
func ControlMessage(workerID, action string) Message {
	return newMessage(TypeControl, action, workerID)
}

// Challenge returns the challenge carried by a letsEncrypt message.
func (m Message) Challenge() letsencrypt.Challenge {
	return letsencrypt.Challenge{Host: m.Host, Token: m.Token, KeyAuthorization: m.KeyAuthorization}
}
