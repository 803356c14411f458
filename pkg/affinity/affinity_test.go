package affinity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/affinity"
)

func TestTasksetPinner_RejectsNegativeCPU(t *testing.T) {
	p := affinity.NewTasksetPinner()
	err := p.Pin(context.Background(), -1)
	require.Error(t, err)
}

type fakePinner struct {
	calledWith int
	err        error
}

func (f *fakePinner) Pin(ctx context.Context, cpu int) error {
	f.calledWith = cpu
	return f.err
}

func TestFakePinner_RecordsRequestedCPU(t *testing.T) {
	f := &fakePinner{}
	require.NoError(t, f.Pin(context.Background(), 3))
	require.Equal(t, 3, f.calledWith)
}
