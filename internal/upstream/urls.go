package upstream

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/sharmaji847401-hue/myapi/internal/models"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
)

// URLBuilder produces the provider URL for one request.
type URLBuilder func(svc *models.Service, in Input) (string, error)

var (
	buildersMu sync.RWMutex
	builders   = map[models.URLMode]URLBuilder{
		models.URLModeStandard:      standardURL,
		models.URLModeBilledUtility: billedUtilityURL,
	}
)

// RegisterURLBuilder installs or replaces the builder for mode.
func RegisterURLBuilder(mode models.URLMode, b URLBuilder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[mode] = b
}

// BuildURL resolves the builder for the service's url mode. An empty mode is standard.
func BuildURL(svc *models.Service, in Input) (string, error) {
	mode := svc.URLMode
	if mode == "" {
		mode = models.URLModeStandard
	}

	buildersMu.RLock()
	b, ok := builders[mode]
	buildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", pkgerrors.ErrUnknownURLMode, mode)
	}
	return b(svc, in)
}

func standardURL(svc *models.Service, in Input) (string, error) {
	return svc.EndpointTemplate + url.QueryEscape(in.Data), nil
}

func billedUtilityURL(svc *models.Service, in Input) (string, error) {
	if in.BillerID == "" {
		return "", fmt.Errorf("%w: biller_id is required for %s", pkgerrors.ErrInvalidInput, svc.Slug)
	}
	u, err := url.Parse(svc.EndpointTemplate)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint template for %s: %w", svc.Slug, err)
	}
	q := u.Query()
	q.Set("biller_id", in.BillerID)
	q.Set("consumer_number", in.Data)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
