// Package audit enregistre le cycle de vie des paiements dans Elasticsearch :
// le support retrace un paiement sans interroger le store.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	PaymentID string    `json:"payment_id,omitempty"`
	RefundID  string    `json:"refund_id,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"@timestamp"`
}

type ElasticRecorder struct {
	es    *elasticsearch.Client
	index string
}

func NewElasticRecorder(es *elasticsearch.Client, index string) *ElasticRecorder {
	return &ElasticRecorder{es: es, index: index}
}

func (r *ElasticRecorder) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: ev.ID,
		Body:       bytes.NewReader(data),
	}
	res, err := req.Do(ctx, r.es)
	if err != nil {
		return fmt.Errorf("erreur envoi Elastic: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elastic a refusé l'événement %s: %s", ev.Type, res.String())
	}
	return nil
}

// LogRecorder écrit les événements dans le logger quand aucun cluster n'est configuré.
type LogRecorder struct {
	log *zap.Logger
}

func NewLogRecorder(log *zap.Logger) *LogRecorder { return &LogRecorder{log: log} }

func (r *LogRecorder) Record(_ context.Context, ev Event) error {
	r.log.Info("📝 audit",
		zap.String("type", ev.Type),
		zap.String("payment_id", ev.PaymentID),
		zap.String("refund_id", ev.RefundID),
		zap.String("order_id", ev.OrderID),
		zap.String("from", ev.From),
		zap.String("to", ev.To),
		zap.String("amount", ev.Amount))
	return nil
}
