package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "factory", KindFactory.String())
	require.Equal(t, "constructor", KindConstructor.String())
	require.Equal(t, "value", KindValue.String())
	require.Equal(t, "kind(9)", Kind(9).String())
}

func TestDefinitionValidate(t *testing.T) {
	t.Parallel()

	valid := Definition{
		Name: "database",
		Kind: KindFactory,
		Impl: func(context.Context, []any) (any, error) { return struct{}{}, nil },
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		def  Definition
	}{
		{"empty name", Definition{Kind: KindValue}},
		{"factory impl not a function", Definition{Name: "a", Kind: KindFactory, Impl: 42}},
		{"factory impl nil", Definition{Name: "a", Kind: KindFactory}},
		{"constructor impl nil", Definition{Name: "a", Kind: KindConstructor}},
		{"unknown kind", Definition{Name: "a", Kind: Kind(7), Impl: struct{}{}}},
		{"empty dependency name", Definition{Name: "a", Kind: KindValue, Dependencies: []string{""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			require.Error(t, err)
			var coded *Error
			require.ErrorAs(t, err, &coded)
			require.Equal(t, CodeValidationFailed, coded.Code)
		})
	}
}

func TestDefinitionValidateSelfDependencyIsCycle(t *testing.T) {
	t.Parallel()

	def := Definition{Name: "a", Kind: KindValue, Dependencies: []string{"a"}}
	err := def.Validate()
	require.True(t, IsCircularDependency(err))
	require.Contains(t, err.Error(), "a -> a")

	var coded *Error
	require.ErrorAs(t, err, &coded)
	require.Equal(t, []string{"a", "a"}, coded.Path)
}

func TestDefinitionValidateAcceptsNilValue(t *testing.T) {
	t.Parallel()

	def := Definition{Name: "placeholder", Kind: KindValue, Impl: nil}
	require.NoError(t, def.Validate())
}

func TestCircularDependencyErrorRendersPath(t *testing.T) {
	t.Parallel()

	err := NewCircularDependency([]string{"A", "B", "A"})
	require.Contains(t, err.Error(), "A -> B -> A")
	require.True(t, IsCircularDependency(err))
	require.Equal(t, []string{"A", "B", "A"}, err.Path)
}

func TestMissingDependenciesListsAllOffenders(t *testing.T) {
	t.Parallel()

	err := NewMissingDependencies([]string{"api -> cache", "api -> queue"})
	require.True(t, IsMissingDependencies(err))
	require.Contains(t, err.Error(), "api -> cache")
	require.Contains(t, err.Error(), "api -> queue")
}

func TestErrorUnwrapAndIs(t *testing.T) {
	t.Parallel()

	cause := errors.New("connect refused")
	err := NewCreationFailed("database", KindFactory, cause)
	require.ErrorIs(t, err, cause)
	require.True(t, IsCreationFailed(err))
	require.False(t, IsNotFound(err))

	// Code-only matching between *Error values.
	require.ErrorIs(t, err, NewCreationFailed("other", KindValue, nil))
}

func TestTimeoutError(t *testing.T) {
	t.Parallel()

	err := NewTimeout("slow", "construction", context.DeadlineExceeded)
	require.True(t, IsTimeout(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "construction timed out")
}
