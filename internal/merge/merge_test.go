package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swisspipe/engine/internal/domain"
)

func TestMergeEvents_OrdersDataAndUnionsMetadata(t *testing.T) {
	ev1 := &domain.Event{
		Data:     "first",
		Metadata: map[string]string{"a": "1"},
		Sources:  []domain.SourceEntry{{NodeID: "n1"}},
	}
	ev2 := &domain.Event{
		Data:     "second",
		Metadata: map[string]string{"b": "2"},
		Sources:  []domain.SourceEntry{{NodeID: "n2"}},
	}

	merged := MergeEvents([]*domain.Event{ev1, ev2})

	data, ok := merged.Data.([]any)
	assert.True(t, ok)
	assert.Equal(t, []any{"first", "second"}, data)
	assert.Equal(t, "1", merged.Metadata["a"])
	assert.Equal(t, "2", merged.Metadata["b"])
	assert.Len(t, merged.Sources, 2)
}

func TestMergeEvents_NilSlotBecomesNilData(t *testing.T) {
	ev1 := &domain.Event{Data: "only"}

	merged := MergeEvents([]*domain.Event{ev1, nil})

	data, ok := merged.Data.([]any)
	assert.True(t, ok)
	assert.Equal(t, "only", data[0])
	assert.Nil(t, data[1])
}
