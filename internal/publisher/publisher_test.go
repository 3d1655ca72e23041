package publisher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type tagged struct{}

func (tagged) Attributes() map[string]string { return map[string]string{"task_id": "t1"} }

func TestAttributesOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, map[string]string{"task_id": "t1"}, AttributesOf(tagged{}))
	require.Nil(t, AttributesOf("plain"))
}
