package payments

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wolfman30/carebook/pkg/logging"
)

// FakeWidgetFactory is a dev/demo widget that issues sandbox nonces without a
// processor account.
//
// This MUST be gated by configuration and should never be enabled in production.
type FakeWidgetFactory struct {
	logger *logging.Logger

	mu      sync.Mutex
	mounted int
}

func NewFakeWidgetFactory(logger *logging.Logger) *FakeWidgetFactory {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeWidgetFactory{logger: logger}
}

func (f *FakeWidgetFactory) Mount(ctx context.Context, authorization, containerRegion string) (Widget, error) {
	_ = ctx
	if strings.TrimSpace(authorization) == "" {
		return nil, fmt.Errorf("payments: fake widget requires authorization")
	}
	f.mu.Lock()
	f.mounted++
	f.mu.Unlock()
	f.logger.Debug("fake payment widget mounted", "container", containerRegion)
	return &fakeWidget{factory: f}, nil
}

// Mounted reports how many widgets are currently live.
func (f *FakeWidgetFactory) Mounted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted
}

type fakeWidget struct {
	factory *FakeWidgetFactory
	once    sync.Once
}

func (w *fakeWidget) RequestPaymentMethod(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "fake-nonce-" + uuid.NewString(), nil
}

func (w *fakeWidget) Teardown(context.Context) error {
	w.once.Do(func() {
		w.factory.mu.Lock()
		w.factory.mounted--
		w.factory.mu.Unlock()
	})
	return nil
}

var _ WidgetFactory = (*FakeWidgetFactory)(nil)
