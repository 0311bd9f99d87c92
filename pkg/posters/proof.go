package posters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/storage"
)

// MaxProofBytes is the exclusive upper bound on a proof image.
const MaxProofBytes = 10 << 20

var proofContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/heic": true,
	"image/heif": true,
	"image/webp": true,
}

// Upload is a proof image as received from the user.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Validate checks the content type and size.
func (u Upload) Validate() error {
	ct := strings.ToLower(strings.TrimSpace(u.ContentType))
	if !proofContentTypes[ct] {
		return storage.Invalid("proof_image", "must be a valid image format")
	}
	if len(u.Data) == 0 {
		return storage.Invalid("proof_image", "is empty")
	}
	if len(u.Data) >= MaxProofBytes {
		return storage.Invalid("proof_image", "must be less than 10MB")
	}
	return nil
}

func (u Upload) blob() *models.Blob {
	sum := sha256.Sum256(u.Data)
	return &models.Blob{
		Key:         uuid.NewString(),
		Filename:    u.Filename,
		ContentType: strings.ToLower(strings.TrimSpace(u.ContentType)),
		ByteSize:    int64(len(u.Data)),
		Checksum:    hex.EncodeToString(sum[:]),
		Data:        u.Data,
	}
}

// AttachProof stores the image and points the pending poster at it. A
// previous proof is purged once nothing references it. Attaching clears a
// pending resubmission request.
func (s *Service) AttachProof(ctx context.Context, posterID uint, upload Upload) (*models.Poster, error) {
	if err := upload.Validate(); err != nil {
		return nil, err
	}

	var updated *models.Poster
	err := s.store.Transaction(ctx, func(tx storage.Repository) error {
		poster, err := tx.LockPoster(ctx, posterID)
		if err != nil {
			return err
		}
		if poster.VerificationStatus != models.PosterPending {
			return storage.Invalid("proof_image", "can only be attached while the poster is pending")
		}

		blob := upload.blob()
		if err := tx.CreateBlob(ctx, blob); err != nil {
			return fmt.Errorf("failed to store proof: %w", err)
		}

		previous := poster.ProofBlobID
		now := s.now().UTC()
		poster.ProofBlobID = &blob.ID
		poster.ProofAttachedAt = &now
		if poster.ResubmissionRequested() {
			poster.Metadata[models.MetaResubmissionRequested] = false
		}
		if err := tx.SavePoster(ctx, poster); err != nil {
			return err
		}
		if previous != nil {
			if err := purgeIfUnreferenced(ctx, tx, *previous); err != nil {
				return err
			}
		}
		updated = poster
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "proof attached", "poster_id", posterID, "blob_id", *updated.ProofBlobID, "bytes", len(upload.Data))
	return updated, nil
}

// ProofImage downloads the bytes of the poster's proof.
func (s *Service) ProofImage(ctx context.Context, poster *models.Poster) (*models.Blob, error) {
	if poster.ProofBlobID == nil {
		return nil, storage.Invalid("proof_image", "is not attached")
	}
	return s.store.GetBlob(ctx, *poster.ProofBlobID)
}

// purgeIfUnreferenced deletes the blob when no poster points at it. Proofs
// are shared by reference after an auto-match transfer.
func purgeIfUnreferenced(ctx context.Context, tx storage.Repository, blobID uint) error {
	n, err := tx.CountBlobReferences(ctx, blobID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return tx.DeleteBlob(ctx, blobID)
}
