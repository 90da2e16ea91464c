package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"golang.org/x/sync/errgroup"
)

const maxInlineBytes = 15 << 20

var extByType = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
	"audio/webm": "webm",
	"audio/mpeg": "mp3",
	"audio/mp4":  "m4a",
	"audio/ogg":  "ogg",
	"audio/wav":  "wav",
}

// ReportMedia — ссылки на медиа отчёта: фото, подпись клиента, голосовая заметка.
type ReportMedia struct {
	Photos    []model.Photo
	Signature string
	Vocal     string
}

// Promoter заменяет inline data: URL на постоянные URL хранилища.
type Promoter struct {
	store Store
}

// NewPromoter: store == nil — inline-медиа отклоняются с errs.ErrNotConfigured.
func NewPromoter(store Store) *Promoter {
	return &Promoter{store: store}
}

// Promote загружает все data: URL параллельно. Ошибка любой загрузки отменяет остальные и возвращается,
// вызывающий не должен писать строку отчёта в этом случае.
func (p *Promoter) Promote(ctx context.Context, folder string, in ReportMedia) (ReportMedia, error) {
	out := ReportMedia{
		Photos:    append([]model.Photo(nil), in.Photos...),
		Signature: in.Signature,
		Vocal:     in.Vocal,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	schedule := func(target *string, name string) error {
		ref := *target
		if ref == "" {
			return nil
		}
		if !strings.HasPrefix(ref, "data:") {
			return checkPermanent(ref, name)
		}
		if p.store == nil {
			return fmt.Errorf("media %s: object storage: %w", name, errs.ErrNotConfigured)
		}
		g.Go(func() error {
			contentType, data, err := ParseDataURL(ref)
			if err != nil {
				return fmt.Errorf("media %s: %w", name, err)
			}
			key := objectKey(folder, contentType)
			u, err := p.store.Put(gctx, key, contentType, data)
			if err != nil {
				return err
			}
			*target = u
			return nil
		})
		return nil
	}

	var scheduleErr error
	for i := range out.Photos {
		if scheduleErr = schedule(&out.Photos[i].URL, fmt.Sprintf("photos[%d]", i)); scheduleErr != nil {
			break
		}
	}
	if scheduleErr == nil {
		scheduleErr = schedule(&out.Signature, "client_signature")
	}
	if scheduleErr == nil {
		scheduleErr = schedule(&out.Vocal, "vocal")
	}
	if err := g.Wait(); err != nil {
		return ReportMedia{}, err
	}
	if scheduleErr != nil {
		return ReportMedia{}, scheduleErr
	}
	return out, nil
}

// ParseDataURL разбирает "data:<type>;base64,<payload>".
func ParseDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data url: %w", errs.ErrValidation)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data url: %w", errs.ErrValidation)
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("data url must be base64: %w", errs.ErrValidation)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > maxInlineBytes {
		return "", nil, fmt.Errorf("inline media too large: %w", errs.ErrValidation)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("data url payload: %v: %w", err, errs.ErrValidation)
	}
	return contentType, data, nil
}

// checkPermanent отклоняет ссылки, живущие только на устройстве (blob:, file:, относительные пути).
func checkPermanent(ref, name string) error {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("media %s: %q is not a permanent url: %w", name, ref, errs.ErrValidation)
	}
	return nil
}

func objectKey(folder, contentType string) string {
	ext, ok := extByType[contentType]
	if !ok {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s.%s", strings.Trim(folder, "/"), strings.ToLower(ulid.Make().String()), ext)
}
