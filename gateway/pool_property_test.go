package gateway

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// Priority ordering is a total order applied consistently: the pool's
// attempt order depends only on (priority, config position), never on
// how the set is otherwise presented.
func TestBuildPool_OrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")

		reg := NewRegistry(zap.NewNop())
		configs := make([]ProviderConfig, 0, n)
		for i := 0; i < n; i++ {
			typeTag := fmt.Sprintf("p%d", i)
			reg.Register(typeTag, typeFactory())
			configs = append(configs, ProviderConfig{
				Type:     typeTag,
				Enabled:  true,
				Priority: rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("prio%d", i)),
			})
		}

		pool := buildPool("t1", configs, reg, zap.NewNop())
		require.Equal(t, n, pool.Len())

		// Priorities are non-decreasing along the attempt order.
		prios := make(map[string]int, n)
		for _, cfg := range configs {
			prios[cfg.Type] = cfg.Priority
		}
		providers := pool.Providers()
		for i := 1; i < len(providers); i++ {
			require.LessOrEqual(t, prios[providers[i-1].Type()], prios[providers[i].Type()])
		}

		// Equal priorities keep their config position: the attempt
		// order equals a stable sort of the input.
		want := make([]ProviderConfig, len(configs))
		copy(want, configs)
		sort.SliceStable(want, func(i, j int) bool { return want[i].Priority < want[j].Priority })
		for i, cfg := range want {
			require.Equal(t, cfg.Type, providers[i].Type())
		}
	})
}

// Reconfiguring the same providers with distinct priorities in any
// input order must not change the attempt order.
func TestBuildPool_InputOrderIndependenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reg := NewRegistry(zap.NewNop())
		base := []ProviderConfig{
			{Type: "a", Enabled: true, Priority: 10},
			{Type: "b", Enabled: true, Priority: 50},
			{Type: "c", Enabled: true, Priority: 100},
		}
		for _, cfg := range base {
			reg.Register(cfg.Type, typeFactory())
		}

		perm := rapid.Permutation([]int{0, 1, 2}).Draw(t, "perm")
		shuffled := make([]ProviderConfig, len(base))
		for i, j := range perm {
			shuffled[i] = base[j]
		}

		pool := buildPool("t1", shuffled, reg, zap.NewNop())
		require.Equal(t, 3, pool.Len())
		require.Equal(t, "a", pool.Providers()[0].Type())
		require.Equal(t, "b", pool.Providers()[1].Type())
		require.Equal(t, "c", pool.Providers()[2].Type())
	})
}
