package cluster

import (
	"context"
	"io"
	"log/slog"

	"github.com/dmitrymomot/rproxy/core/letsencrypt"
	"github.com/dmitrymomot/rproxy/core/logger"
)

// CertificateSink installs certificate material received from the cluster.
type CertificateSink func(host string, key, cert, ca []byte) error

// ChallengeSink holds http-01 challenges received from the cluster.
type ChallengeSink interface {
	Set(host, token, keyAuth string)
	Delete(host, token string) bool
}

// Node is the worker side of the cluster. It forwards statistics, new
// certificates and challenges to the master and applies what the master
// broadcasts back.
type Node struct {
	id         string
	ch         Channel
	certs      CertificateSink
	challenges ChallengeSink
	logger     *slog.Logger
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithCertificateSink sets where broadcast certificates are installed.
func WithCertificateSink(sink CertificateSink) NodeOption {
	return func(n *Node) {
		n.certs = sink
	}
}

// WithChallengeSink sets where broadcast challenges are recorded.
func WithChallengeSink(sink ChallengeSink) NodeOption {
	return func(n *Node) {
		n.challenges = sink
	}
}

// WithNodeLogger sets the logger.
func WithNodeLogger(l *slog.Logger) NodeOption {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNode binds a worker id to its link with the master.
func NewNode(id string, ch Channel, opts ...NodeOption) *Node {
	n := &Node{
		id:     id,
		ch:     ch,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(logger.Component("cluster"), logger.WorkerID(id))
	return n
}

// ID returns the worker id.
func (n *Node) ID() string {
	return n.id
}

// PropagateCertificate implements certstore.Propagator.
func (n *Node) PropagateCertificate(ctx context.Context, host string, key, cert, ca []byte) error {
	return n.ch.Send(ctx, CertificateMessage(n.id, host, key, cert, ca))
}

// RelayChallenge implements letsencrypt.ChallengeRelay.
func (n *Node) RelayChallenge(ctx context.Context, action string, c letsencrypt.Challenge) error {
	return n.ch.Send(ctx, ChallengeMessage(n.id, action, c))
}

// ForwardCount implements statistics.Forwarder.
func (n *Node) ForwardCount(ctx context.Context, name string, delta int64, workerID string) error {
	if workerID == "" {
		workerID = n.id
	}
	return n.ch.Send(ctx, StatisticsMessage(workerID, name, delta))
}

// Disconnect tells the master this worker is leaving on purpose, so it is
// not restarted.
func (n *Node) Disconnect(ctx context.Context) error {
	return n.ch.Send(ctx, ControlMessage(n.id, ActionDisconnect))
}

// Run reports the worker online and applies inbound messages until ctx is
// done or the link closes. A closed link yields ErrChannelClosed.
func (n *Node) Run(ctx context.Context) error {
	if err := n.ch.Send(ctx, ControlMessage(n.id, ActionOnline)); err != nil {
		return err
	}

	in := n.ch.Receive()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrChannelClosed
			}
			n.Handle(msg)
		}
	}
}

// Handle applies a single inbound message. Statistics and control messages
// are ignored: only the master aggregates them.
func (n *Node) Handle(msg Message) {
	switch msg.MessageType {
	case TypeCertificate:
		if msg.Action != ActionUpdateCertificate || n.certs == nil {
			return
		}
		if err := n.certs(msg.Host, []byte(msg.Key), []byte(msg.Cert), []byte(msg.CA)); err != nil {
			n.logger.Error("failed to apply certificate", logger.Host(msg.Host), logger.Error(err))
			return
		}
		n.logger.Info("certificate applied", logger.Host(msg.Host), slog.String("from", msg.WorkerID))

	case TypeLetsEncrypt:
		if n.challenges == nil {
			return
		}
		switch msg.Action {
		case ActionAddChallenge:
			n.challenges.Set(msg.Host, msg.Token, msg.KeyAuthorization)
		case ActionRemoveChallenge:
			n.challenges.Delete(msg.Host, msg.Token)
		}

	case TypeStatistics, TypeControl:
	default:
		n.logger.Debug("ignoring unknown message", logger.Type(string(msg.MessageType)))
	}
}
