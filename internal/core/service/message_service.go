package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/stock-ledger/internal/catalog"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/parser"
	"github.com/rl1809/stock-ledger/internal/observe"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	systemErrorMessage    = "System error, please retry."
	noValidUpdatesMessage = `Sorry, I could not find a stock update in that. Try "10 Parle-G sold" or "5kg sugar purchased".`
	rejectedMessage       = "Okay, discarded. Please send the update again."
	noRecentPurchaseFmt   = "No recent purchase of %s found to set an expiry on."
	defaultBulkLimit      = 8
)

// MessageServiceConfig wires a [MessageService].
type MessageServiceConfig struct {
	Catalog    *catalog.Catalog
	Corrector  *parser.Corrector
	Extractor  *parser.Extractor
	Gate       *Gate
	States     port.ActorStateStore
	Reconciler *Reconciler
	Ledger     *Ledger
	Selector   *Selector
	Inventory  port.InventoryRepository
	Metrics    *observe.Metrics
	Logger     *slog.Logger

	// PromptExpiry asks for expiry dates after purchases.
	PromptExpiry bool

	// BulkConcurrency bounds concurrent bulk items. Defaults to 8 if zero.
	BulkConcurrency int
}

// MessageService runs the full pipeline for one inbound message.
type MessageService struct {
	catalog      *catalog.Catalog
	corrector    *parser.Corrector
	extractor    *parser.Extractor
	gate         *Gate
	states       port.ActorStateStore
	reconciler   *Reconciler
	ledger       *Ledger
	selector     *Selector
	inventory    port.InventoryRepository
	metrics      *observe.Metrics
	logger       *slog.Logger
	promptExpiry bool
	bulkLimit    int
	now          func() time.Time
}

func NewMessageService(cfg MessageServiceConfig) *MessageService {
	s := &MessageService{
		catalog:      cfg.Catalog,
		corrector:    cfg.Corrector,
		extractor:    cfg.Extractor,
		gate:         cfg.Gate,
		states:       cfg.States,
		reconciler:   cfg.Reconciler,
		ledger:       cfg.Ledger,
		selector:     cfg.Selector,
		inventory:    cfg.Inventory,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		promptExpiry: cfg.PromptExpiry,
		bulkLimit:    cfg.BulkConcurrency,
		now:          time.Now,
	}
	if s.metrics == nil {
		s.metrics = observe.Discard()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.bulkLimit <= 0 {
		s.bulkLimit = defaultBulkLimit
	}
	return s
}

// HandleMessage processes one message and never returns an error: failures
// are reported through the outcome.
func (s *MessageService) HandleMessage(ctx context.Context, msg domain.NormalizedMessage) (out domain.Outcome) {
	correlationID := uuid.NewString()
	logger := s.logger.With(
		"correlation_id", correlationID,
		"actor_id", msg.ActorID,
		"shop_id", msg.ShopID,
	)
	ctx = observe.WithLogger(ctx, logger)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic while handling message",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			out = systemError(correlationID)
		}
		s.metrics.RecordMessage(ctx, string(out.Kind))
		logger.Info("message handled", "outcome", out.Kind)
	}()

	out = s.handle(ctx, correlationID, msg)
	out.CorrelationID = correlationID
	return out
}

func (s *MessageService) handle(ctx context.Context, correlationID string, msg domain.NormalizedMessage) domain.Outcome {
	logger := observe.Logger(ctx)
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return domain.Outcome{Kind: domain.OutcomeNoValidUpdates, Message: noValidUpdatesMessage}
	}
	lang := s.corrector.DetectLanguage(text, msg.LanguageHint)

	if s.catalog.IsYes(text) || s.catalog.IsNo(text) {
		pending, err := s.states.TakePending(ctx, msg.ActorID)
		if err != nil {
			logger.Error("failed to read pending confirmation", "error", err)
			return systemError(correlationID)
		}
		if pending != nil {
			if s.catalog.IsNo(text) {
				logger.Info("confirmation rejected")
				return domain.Outcome{
					Kind:       domain.OutcomeConfirmationRejected,
					Transcript: pending.Transcript,
					Language:   pending.DetectedLanguage,
					Message:    rejectedMessage,
				}
			}
			logger.Info("confirmation accepted")
			return s.apply(ctx, msg.ActorID, pending.ShopID, pending.Transcript, pending.DetectedLanguage)
		}
	}

	if product, expiry, ok := s.selector.ParseExpiry(text); ok {
		return s.handleExpiry(ctx, msg, product, expiry)
	}

	if out, ok := s.handleSelection(ctx, msg, text); ok {
		return out
	}

	corrected := s.corrector.Correct(ctx, text, lang)
	if corrected.CleanupErr != nil {
		logger.Warn("text cleanup failed, using rule-corrected text", "error", corrected.CleanupErr)
	}

	if s.gate.NeedsConfirmation(msg) {
		err := s.states.PutPending(ctx, domain.PendingConfirmation{
			ActorID:          msg.ActorID,
			ShopID:           msg.ShopID,
			Transcript:       corrected.Text,
			DetectedLanguage: lang,
			CreatedAt:        s.now(),
		})
		if err != nil {
			logger.Error("failed to store pending confirmation", "error", err)
			return systemError(correlationID)
		}
		return domain.Outcome{
			Kind:       domain.OutcomeConfirmationRequested,
			Transcript: corrected.Text,
			Language:   lang,
			Message:    fmt.Sprintf("I heard: %q. Reply yes to apply it or no to discard it.", corrected.Text),
		}
	}

	return s.apply(ctx, msg.ActorID, msg.ShopID, corrected.Text, lang)
}

// apply extracts and reconciles every valid clause of transcript in order.
func (s *MessageService) apply(ctx context.Context, actorID, shopID, transcript, lang string) domain.Outcome {
	logger := observe.Logger(ctx)

	ex := s.extractor.Extract(transcript)
	s.metrics.RecordClauses(ctx, ex.Total, ex.Valid)
	for _, d := range ex.Dropped {
		logger.Debug("clause dropped",
			"clause", d.Clause,
			"product", d.Product,
			"quantity", d.Quantity,
			"action", d.Action,
		)
	}

	out := domain.Outcome{
		Transcript:   transcript,
		Language:     lang,
		TotalClauses: ex.Total,
		ValidClauses: ex.Valid,
	}
	if ex.Valid == 0 {
		out.Kind = domain.OutcomeNoValidUpdates
		out.Message = noValidUpdatesMessage
		return out
	}

	var purchased []string
	for _, u := range ex.Updates {
		if u.Truncated != "" {
			logger.Debug("quantity truncated",
				"clause", u.Clause,
				"quantity", u.Quantity,
				"ignored", u.Truncated,
			)
		}
		res, err := s.reconciler.Apply(ctx, shopID, u)
		if err != nil {
			logger.Error("failed to apply update",
				"product", u.Product,
				"action", u.Action,
				"quantity", u.Quantity,
				"error", err,
			)
			out.Failed = append(out.Failed, domain.FailedItem{
				Product:  u.Product,
				Action:   u.Action,
				Quantity: u.Quantity,
				Unit:     u.Unit,
				Reason:   failureReason(err),
			})
			continue
		}
		out.Items = append(out.Items, res.Item)
		if u.Action == domain.ActionPurchased {
			purchased = append(purchased, u.Product)
		}
		if len(res.OpenLots) > 1 && out.Prompt == nil {
			out.Prompt = s.askForLot(ctx, actorID, shopID, lang, res)
		}
	}

	switch {
	case len(out.Items) == 0:
		out.Kind = domain.OutcomeSystemError
		out.Message = systemErrorMessage
		return out
	case len(out.Failed) > 0:
		out.Kind = domain.OutcomeUpdatesPartial
	default:
		out.Kind = domain.OutcomeUpdatesApplied
	}

	if out.Prompt != nil {
		out.Kind = domain.OutcomeSelectionRequested
	} else if s.promptExpiry && len(purchased) > 0 {
		out.Prompt = s.askForExpiry(ctx, actorID, shopID, lang, purchased)
	}
	return out
}

func (s *MessageService) askForLot(ctx context.Context, actorID, shopID, lang string, res Reconciled) *domain.Prompt {
	keys := make([]string, len(res.OpenLots))
	for i, b := range res.OpenLots {
		keys[i] = b.CompositeKey
	}
	payload, _ := json.Marshal(domain.BatchSelectionPayload{
		ShopID:   shopID,
		Product:  res.Item.Product,
		Quantity: res.Item.Delta.Abs().String(),
		Unit:     res.Item.Unit,
		Lots:     keys,
	})
	if !s.putCorrection(ctx, actorID, domain.CorrectionBatchSelection, payload, lang) {
		return nil
	}
	return &domain.Prompt{
		Type:    domain.CorrectionBatchSelection,
		Product: res.Item.Product,
		Lots:    res.OpenLots,
	}
}

func (s *MessageService) askForExpiry(ctx context.Context, actorID, shopID, lang string, products []string) *domain.Prompt {
	payload, _ := json.Marshal(domain.ExpiryEntryPayload{ShopID: shopID, Products: products})
	if !s.putCorrection(ctx, actorID, domain.CorrectionExpiryEntry, payload, lang) {
		return nil
	}
	return &domain.Prompt{Type: domain.CorrectionExpiryEntry, Products: products}
}

func (s *MessageService) putCorrection(ctx context.Context, actorID string, typ domain.CorrectionType, payload []byte, lang string) bool {
	err := s.states.PutCorrection(ctx, domain.CorrectionState{
		ID:               uuid.NewString(),
		ActorID:          actorID,
		Type:             typ,
		Payload:          payload,
		DetectedLanguage: lang,
		CreatedAt:        s.now(),
	})
	if err != nil {
		observe.Logger(ctx).Error("failed to store correction state", "type", typ, "error", err)
		return false
	}
	return true
}

func (s *MessageService) handleExpiry(ctx context.Context, msg domain.NormalizedMessage, product string, expiry time.Time) domain.Outcome {
	logger := observe.Logger(ctx)

	b, err := s.selector.UpdateExpiry(ctx, msg.ShopID, product, expiry)
	if errors.Is(err, domain.ErrNoRecentPurchase) {
		return domain.Outcome{
			Kind:    domain.OutcomeNoRecentPurchase,
			Message: fmt.Sprintf(noRecentPurchaseFmt, product),
		}
	}
	if err != nil {
		logger.Error("failed to set expiry", "product", product, "error", err)
		return systemError("")
	}

	if st, err := s.states.GetCorrection(ctx, msg.ActorID); err == nil && st != nil && st.Type == domain.CorrectionExpiryEntry {
		if _, err := s.states.DeleteCorrectionIf(ctx, msg.ActorID, st.ID); err != nil {
			logger.Warn("failed to clear expiry prompt", "error", err)
		}
	}
	return domain.Outcome{Kind: domain.OutcomeExpiryUpdated, Batch: b}
}

// handleSelection answers an open batch-selection prompt. It reports false
// when text is not such an answer.
func (s *MessageService) handleSelection(ctx context.Context, msg domain.NormalizedMessage, text string) (domain.Outcome, bool) {
	logger := observe.Logger(ctx)

	st, err := s.states.GetCorrection(ctx, msg.ActorID)
	if err != nil {
		logger.Error("failed to read correction state", "error", err)
		return domain.Outcome{}, false
	}
	if st == nil || st.Type != domain.CorrectionBatchSelection || !s.selector.IsSelectionReply(text) {
		return domain.Outcome{}, false
	}

	var payload domain.BatchSelectionPayload
	if err := json.Unmarshal(st.Payload, &payload); err != nil {
		logger.Error("invalid batch selection state", "error", err)
		return domain.Outcome{}, false
	}
	qty, err := decimal.NewFromString(payload.Quantity)
	if err != nil {
		logger.Error("invalid batch selection quantity", "quantity", payload.Quantity, "error", err)
		return domain.Outcome{}, false
	}

	offered := make([]domain.BatchRecord, 0, len(payload.Lots))
	for _, key := range payload.Lots {
		_, _, day, err := domain.ParseCompositeKey(key)
		if err != nil {
			continue
		}
		offered = append(offered, domain.BatchRecord{CompositeKey: key, PurchaseDate: day})
	}
	chosen := s.selector.SelectBatch(offered, text)
	if chosen == nil {
		return domain.Outcome{}, false
	}

	// Only the reply that removes the state may apply it.
	deleted, err := s.states.DeleteCorrectionIf(ctx, msg.ActorID, st.ID)
	if err != nil || !deleted {
		return domain.Outcome{}, false
	}

	var updated *domain.BatchRecord
	err = s.reconciler.WithProductLock(ctx, payload.ShopID, payload.Product, func(ctx context.Context) error {
		var err error
		updated, err = s.ledger.UpdateBatchQuantityByCompositeKey(ctx, chosen.CompositeKey, qty.Neg(), payload.Unit)
		return err
	})
	if err != nil {
		logger.Error("failed to apply batch selection", "composite_key", chosen.CompositeKey, "error", err)
		return systemError(""), true
	}
	return domain.Outcome{Kind: domain.OutcomeBatchSelected, Batch: updated}, true
}

// BulkUpdate applies independent deltas concurrently. Every item settles;
// results keep the input order.
func (s *MessageService) BulkUpdate(ctx context.Context, items []domain.BulkItem) []domain.BulkResult {
	logger := s.logger.With("correlation_id", uuid.NewString())
	ctx = observe.WithLogger(ctx, logger)

	results := make([]domain.BulkResult, len(items))
	var g errgroup.Group
	g.SetLimit(s.bulkLimit)
	for i, item := range items {
		g.Go(func() error {
			results[i] = s.bulkItem(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	logger.Info("bulk update settled", "items", len(items), "failed", failed)
	return results
}

func (s *MessageService) bulkItem(ctx context.Context, item domain.BulkItem) (res domain.BulkResult) {
	res.Item = item
	defer func() {
		if rec := recover(); rec != nil {
			observe.Logger(ctx).Error("panic in bulk item", "panic", rec, "stack", string(debug.Stack()))
			res.Error = systemErrorMessage
		}
	}()

	if item.ShopID == "" || strings.TrimSpace(item.Product) == "" || item.Delta.IsZero() {
		res.Error = "shop_id, product and a non-zero delta are required"
		return res
	}
	if p, ok := s.catalog.ProductByName(item.Product); ok {
		item.Product = p.Name
		if item.Unit == "" {
			item.Unit = p.Unit
		}
	}

	applied, err := s.reconciler.ApplyDelta(ctx, item)
	if err != nil {
		observe.Logger(ctx).Error("bulk item failed", "product", item.Product, "error", err)
		res.Error = failureReason(err)
		return res
	}
	res.Applied = &applied.Item
	return res
}

// Inventory lists a shop's stock rows.
func (s *MessageService) Inventory(ctx context.Context, shopID string) ([]domain.InventoryRecord, error) {
	return s.inventory.ListInventory(ctx, shopID)
}

// Batches lists a product's lots, newest first.
func (s *MessageService) Batches(ctx context.Context, shopID, product string) ([]domain.BatchRecord, error) {
	if p, ok := s.catalog.ProductByName(product); ok {
		product = p.Name
	}
	return s.ledger.ListBatches(ctx, shopID, product)
}

func systemError(correlationID string) domain.Outcome {
	return domain.Outcome{
		Kind:          domain.OutcomeSystemError,
		CorrelationID: correlationID,
		Message:       systemErrorMessage,
	}
}

func failureReason(err error) string {
	var storeErr *domain.StoreError
	switch {
	case errors.As(err, &storeErr):
		return "storage unavailable"
	case errors.Is(err, domain.ErrIncompatibleUnits):
		return "incompatible units"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timed out"
	}
	return "could not be saved"
}
