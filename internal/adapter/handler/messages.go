package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// maxBulkItems bounds one bulk request.
const maxBulkItems = 1000

// InventoryService is what the transports expose.
type InventoryService interface {
	HandleMessage(ctx context.Context, msg domain.NormalizedMessage) domain.Outcome
	BulkUpdate(ctx context.Context, items []domain.BulkItem) []domain.BulkResult
	Inventory(ctx context.Context, shopID string) ([]domain.InventoryRecord, error)
	Batches(ctx context.Context, shopID, product string) ([]domain.BatchRecord, error)
}

type MessageRequest struct {
	ActorID      string   `json:"actor_id"`
	ShopID       string   `json:"shop_id"`
	Text         string   `json:"text"`
	Modality     string   `json:"modality,omitempty"`
	LanguageHint string   `json:"language_hint,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

type BulkRequest struct {
	Items []domain.BulkItem `json:"items"`
}

type BulkResponse struct {
	Results []domain.BulkResult `json:"results"`
}

type InventoryRequest struct {
	ShopID string `json:"shop_id"`
}

type InventoryResponse struct {
	Records []domain.InventoryRecord `json:"records"`
}

type BatchesResponse struct {
	Lots []domain.BatchRecord `json:"lots"`
}

var (
	errMissingFields  = errors.New("actor_id and shop_id are required")
	errBadModality    = errors.New("modality must be voice or text")
	errBadConfidence  = errors.New("confidence must be between 0 and 1")
	errEmptyBulk      = errors.New("items must not be empty")
	errBulkTooLarge   = errors.New("too many items")
	errMissingShopID  = errors.New("shop_id is required")
	errMissingProduct = errors.New("product is required")
)

func (r *MessageRequest) toMessage() (domain.NormalizedMessage, error) {
	if strings.TrimSpace(r.ActorID) == "" || strings.TrimSpace(r.ShopID) == "" {
		return domain.NormalizedMessage{}, errMissingFields
	}
	modality := domain.Modality(strings.ToLower(r.Modality))
	switch modality {
	case "":
		modality = domain.ModalityText
	case domain.ModalityText, domain.ModalityVoice:
	default:
		return domain.NormalizedMessage{}, errBadModality
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return domain.NormalizedMessage{}, errBadConfidence
	}
	return domain.NormalizedMessage{
		ActorID:      r.ActorID,
		ShopID:       r.ShopID,
		Text:         r.Text,
		Modality:     modality,
		LanguageHint: r.LanguageHint,
		Confidence:   r.Confidence,
	}, nil
}

func (r *BulkRequest) validate() error {
	switch {
	case len(r.Items) == 0:
		return errEmptyBulk
	case len(r.Items) > maxBulkItems:
		return errBulkTooLarge
	}
	return nil
}
