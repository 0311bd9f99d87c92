// Package verification auto-verifies poster proofs by decoding the QR codes
// in the uploaded photo and matching them against the user's posters.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chris/shard-rewards/pkg/metrics"
	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/notify"
	"github.com/chris/shard-rewards/pkg/posters"
	"github.com/chris/shard-rewards/pkg/qrcode"
	"github.com/chris/shard-rewards/pkg/qrmatch"
	"github.com/chris/shard-rewards/pkg/storage"
)

// Outcome is where a proof landed.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeAutoMatched Outcome = "auto_matched"
	OutcomeWrongGroup  Outcome = "wrong_group"
	OutcomeInReview    Outcome = "in_review"
	OutcomeOnHold      Outcome = "on_hold"
	// OutcomeUnchanged means the poster was not in a state that auto-verification handles.
	OutcomeUnchanged Outcome = "unchanged"
)

// Verification results recorded under auto_verification_result. A wrong
// group result is only reported in notifications.
const (
	resultNoQRCodes  = "no_qr_codes"
	resultQRNotFound = "qr_not_found"
	resultWrongGroup = "wrong_group"
)

// ReasonLocationRequired is the hold reason for a proof without location.
const ReasonLocationRequired = "location required"

// PosterService is the poster state machine the orchestrator drives.
type PosterService interface {
	Get(ctx context.Context, id uint) (*models.Poster, error)
	CanonicalURL(ctx context.Context, poster *models.Poster) (string, error)
	ProofImage(ctx context.Context, poster *models.Poster) (*models.Blob, error)
	Annotate(ctx context.Context, posterID uint, meta models.Metadata) (*models.Poster, error)
	MarkForReview(ctx context.Context, posterID uint, meta models.Metadata) (*models.Poster, error)
	Hold(ctx context.Context, posterID uint, reason string, meta models.Metadata) (*models.Poster, error)
	CompleteAutoVerification(ctx context.Context, posterID uint, meta models.Metadata) (*posters.Result, error)
	TransferProof(ctx context.Context, targetID uint, match posters.AutoMatch) (*posters.Result, error)
}

// PosterLister finds candidate posters.
type PosterLister interface {
	ListPosters(ctx context.Context, q storage.PosterQuery) ([]models.Poster, error)
}

// Result reports what happened to one poster.
type Result struct {
	Outcome  Outcome
	Poster   *models.Poster
	Payloads []string
	// Matched is the poster that received the proof for auto_matched, or
	// the conflicting poster for wrong_group.
	Matched *models.Poster
	Reward  *models.LedgerEntry
}

// Orchestrator runs auto-verification. Decoding happens before any
// transaction is opened.
type Orchestrator struct {
	posters       PosterService
	lister        PosterLister
	decoder       qrcode.Decoder
	notifier      notify.Notifier
	decodeTimeout time.Duration
	now           func() time.Time
}

// New creates an Orchestrator. A zero decodeTimeout means qrcode.DefaultTimeout.
func New(posterSvc PosterService, lister PosterLister, decoder qrcode.Decoder, notifier notify.Notifier, decodeTimeout time.Duration, now func() time.Time) *Orchestrator {
	if decodeTimeout <= 0 {
		decodeTimeout = qrcode.DefaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		posters:       posterSvc,
		lister:        lister,
		decoder:       decoder,
		notifier:      notifier,
		decodeTimeout: decodeTimeout,
		now:           now,
	}
}

// Verify auto-verifies one poster. Decode failures never surface as errors:
// they land the poster in review. Errors are returned only when the store
// fails.
func (o *Orchestrator) Verify(ctx context.Context, posterID uint) (*Result, error) {
	poster, err := o.posters.Get(ctx, posterID)
	if err != nil {
		return nil, err
	}
	if poster.VerificationStatus != models.PosterPending && poster.VerificationStatus != models.PosterInReview {
		return &Result{Outcome: OutcomeUnchanged, Poster: poster}, nil
	}

	expected, err := o.posters.CanonicalURL(ctx, poster)
	if err != nil {
		return nil, err
	}
	meta := models.Metadata{
		models.MetaAutoVerificationAttemptedAt: o.now().UTC().Format(time.RFC3339),
		models.MetaExpectedURL:                 expected,
	}

	if !poster.HasProof() {
		meta[models.MetaAutoVerificationError] = "No proof image attached"
		return o.review(ctx, poster, meta, nil)
	}

	payloads, err := o.decode(ctx, poster)
	if err != nil {
		slog.WarnContext(ctx, "failed to decode proof", "poster_id", poster.ID, "kind", qrcode.KindOf(err), "error", err)
		meta[models.MetaAutoVerificationError] = decodeError(err)
		return o.review(ctx, poster, meta, nil)
	}
	meta[models.MetaDetectedQRCodes] = payloads
	if len(payloads) == 0 {
		meta[models.MetaAutoVerificationResult] = resultNoQRCodes
		return o.review(ctx, poster, meta, payloads)
	}

	self := qrmatch.Target{ID: poster.ID, Code: poster.ReferralCode, CanonicalURL: expected}
	if _, ok := qrmatch.AnyMatches(payloads, self); ok {
		return o.succeed(ctx, poster, meta, payloads)
	}

	inScope, outOfScope, err := o.candidates(ctx, poster)
	if err != nil {
		return nil, err
	}
	if match, ok := qrmatch.FirstMatch(payloads, inScope); ok {
		return o.transfer(ctx, poster, meta, payloads, match)
	}
	if match, ok := qrmatch.FirstMatch(payloads, outOfScope); ok {
		return o.conflict(ctx, poster, payloads, match)
	}

	meta[models.MetaAutoVerificationResult] = resultQRNotFound
	return o.review(ctx, poster, meta, payloads)
}

func (o *Orchestrator) decode(ctx context.Context, poster *models.Poster) ([]string, error) {
	blob, err := o.posters.ProofImage(ctx, poster)
	if err != nil {
		return nil, fmt.Errorf("failed to download proof: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, o.decodeTimeout)
	defer cancel()
	return o.decoder.Decode(ctx, blob.Data, blob.ContentType)
}

func decodeError(err error) string {
	var qerr *qrcode.Error
	if errors.As(err, &qerr) {
		return "QR Reader: " + qerr.Error()
	}
	return err.Error()
}

func (o *Orchestrator) succeed(ctx context.Context, poster *models.Poster, meta models.Metadata, payloads []string) (*Result, error) {
	res, err := o.posters.CompleteAutoVerification(ctx, poster.ID, meta)
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		return o.record(ctx, &Result{Outcome: OutcomeUnchanged, Poster: res.Poster, Payloads: payloads}), nil
	}
	notify.Dispatch(ctx, o.notifier, reviewNotice(res.Poster, "Poster auto-verified."))
	return o.record(ctx, &Result{Outcome: OutcomeSuccess, Poster: res.Poster, Payloads: payloads, Reward: res.Reward}), nil
}

// candidates returns the user's other pending posters split by whether they
// share the poster's scope: the same group, or standalone in the same campaign.
func (o *Orchestrator) candidates(ctx context.Context, poster *models.Poster) ([]qrmatch.Target, []qrmatch.Target, error) {
	if poster.UserID == nil {
		return nil, nil, nil
	}
	pending, err := o.lister.ListPosters(ctx, storage.PosterQuery{
		UserID:     poster.UserID,
		Statuses:   []models.PosterStatus{models.PosterPending},
		ExcludeIDs: []uint{poster.ID},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list candidate posters: %w", err)
	}

	var inScope, outOfScope []qrmatch.Target
	for i := range pending {
		candidate := &pending[i]
		url, err := o.posters.CanonicalURL(ctx, candidate)
		if err != nil {
			return nil, nil, err
		}
		target := qrmatch.Target{ID: candidate.ID, Code: candidate.ReferralCode, CanonicalURL: url}
		if sameScope(poster, candidate) {
			inScope = append(inScope, target)
		} else {
			outOfScope = append(outOfScope, target)
		}
	}
	return inScope, outOfScope, nil
}

func sameScope(a, b *models.Poster) bool {
	if a.PosterGroupID != nil || b.PosterGroupID != nil {
		return a.PosterGroupID != nil && b.PosterGroupID != nil && *a.PosterGroupID == *b.PosterGroupID
	}
	return a.CampaignID != nil && b.CampaignID != nil && *a.CampaignID == *b.CampaignID
}

func (o *Orchestrator) transfer(ctx context.Context, poster *models.Poster, meta models.Metadata, payloads []string, match qrmatch.Match) (*Result, error) {
	if _, err := o.posters.Annotate(ctx, poster.ID, meta); err != nil {
		return nil, err
	}
	res, err := o.posters.TransferProof(ctx, match.Target.ID, posters.AutoMatch{
		SourcePosterID: poster.ID,
		QRCode:         match.Payload,
		DetectedCodes:  payloads,
	})
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		// The target left pending since it was listed.
		meta[models.MetaAutoVerificationResult] = resultQRNotFound
		return o.review(ctx, poster, meta, payloads)
	}
	source, err := o.posters.Get(ctx, poster.ID)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "proof auto-matched", "poster_id", poster.ID, "matched_poster_id", res.Poster.ID)
	notify.Dispatch(ctx, o.notifier, reviewNotice(res.Poster, fmt.Sprintf("Poster auto-matched from poster %d.", poster.ID)))
	return o.record(ctx, &Result{Outcome: OutcomeAutoMatched, Poster: source, Payloads: payloads, Matched: res.Poster, Reward: res.Reward}), nil
}

// conflict reports a match outside the poster's scope. Neither poster is
// written: the conflict only reaches the reviewer and the owner.
func (o *Orchestrator) conflict(ctx context.Context, poster *models.Poster, payloads []string, match qrmatch.Match) (*Result, error) {
	matched, err := o.posters.Get(ctx, match.Target.ID)
	if err != nil {
		return nil, err
	}
	slog.WarnContext(ctx, "proof matches a poster in another group", "poster_id", poster.ID, "matched_poster_id", matched.ID)

	data := map[string]any{"poster_id": poster.ID, "matched_poster_id": matched.ID, "qr_code": match.Payload, "result": resultWrongGroup}
	msgs := []notify.Message{
		notify.New(notify.KindPosterWrongGroup, notify.AdminUserID,
			fmt.Sprintf("Proof for poster %d shows poster %d from another group.", poster.ID, matched.ID), data),
	}
	if poster.UserID != nil {
		msgs = append(msgs, notify.New(notify.KindPosterWrongGroup, *poster.UserID,
			fmt.Sprintf("This photo shows poster %s, not %s. Upload it on the matching poster instead.", matched.ReferralCode, poster.ReferralCode), data))
	}
	notify.Dispatch(ctx, o.notifier, msgs...)
	return o.record(ctx, &Result{Outcome: OutcomeWrongGroup, Poster: poster, Payloads: payloads, Matched: matched}), nil
}

// review lands the poster in a reviewable state. A poster without location
// cannot enter review, so it is held instead.
func (o *Orchestrator) review(ctx context.Context, poster *models.Poster, meta models.Metadata, payloads []string) (*Result, error) {
	if _, err := o.posters.Annotate(ctx, poster.ID, meta); err != nil {
		return nil, err
	}
	updated, err := o.posters.MarkForReview(ctx, poster.ID, nil)
	outcome := OutcomeInReview
	if errors.Is(err, posters.ErrLocationRequired) {
		outcome = OutcomeOnHold
		updated, err = o.posters.Hold(ctx, poster.ID, ReasonLocationRequired, nil)
	}
	if err != nil {
		return nil, err
	}
	notify.Dispatch(ctx, o.notifier, reviewNotice(updated, "Poster needs review."))
	return o.record(ctx, &Result{Outcome: outcome, Poster: updated, Payloads: payloads}), nil
}

func (o *Orchestrator) record(ctx context.Context, res *Result) *Result {
	metrics.VerificationOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	slog.InfoContext(ctx, "auto-verification finished", "poster_id", res.Poster.ID, "outcome", res.Outcome, "payloads", len(res.Payloads))
	return res
}

func reviewNotice(poster *models.Poster, text string) notify.Message {
	return notify.New(notify.KindPosterNeedsReview, notify.AdminUserID, text, map[string]any{
		"poster_id":           poster.ID,
		"verification_status": string(poster.VerificationStatus),
	})
}
