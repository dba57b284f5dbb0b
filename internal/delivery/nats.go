package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

var ErrNATSSubjectRequired = errors.New("nats subject is required")

// NATSRequester is the request/reply subset of *nats.Conn.
type NATSRequester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// NATSTransport hands messages to an SMS sender service listening on a NATS subject
// and waits for its reply.
type NATSTransport struct {
	conn    NATSRequester
	subject string
	logger  *logrus.Logger
}

type natsSendRequest struct {
	JobID string `json:"jobId"`
	To    string `json:"to"`
	Body  string `json:"body"`
}

type natsSendReply struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

func NewNATSTransport(conn NATSRequester, subject string, logger *logrus.Logger) (*NATSTransport, error) {
	if subject == "" {
		return nil, ErrNATSSubjectRequired
	}
	return &NATSTransport{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

func (t *NATSTransport) Name() string {
	return "nats"
}

func (t *NATSTransport) Send(ctx context.Context, msg Message) (*Receipt, error) {
	data, err := json.Marshal(natsSendRequest{JobID: msg.JobID, To: msg.Recipient, Body: msg.Body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal nats request: %w", err)
	}

	reply, err := t.conn.RequestWithContext(ctx, t.subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request: %w", err)
	}

	var decoded natsSendReply
	if err := json.Unmarshal(reply.Data, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode nats reply: %w", err)
	}

	if !decoded.Success {
		t.logger.WithFields(logrus.Fields{
			"job_id": msg.JobID,
			"error":  decoded.Error,
		}).Warn("SMS sender rejected message")
		return nil, fmt.Errorf("%w: %s", ErrDeliveryFailed, decoded.Error)
	}

	return &Receipt{
		Provider:          t.Name(),
		ProviderMessageID: decoded.MessageID,
	}, nil
}
