package storage

import (
	"context"
	"fmt"
	"reflect"
)

// CopyStacks writes every stack in src to dst and then checks that dst lists
// the same names with the same resources. It returns the number of stacks
// copied. Stacks already in dst are overwritten.
func CopyStacks(ctx context.Context, src, dst Repository) (int, error) {
	names, err := src.ListStacks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list source stacks: %w", err)
	}
	for _, name := range names {
		stack, err := src.LoadStack(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("load stack %s: %w", name, err)
		}
		if err := dst.SaveStack(ctx, stack); err != nil {
			return 0, fmt.Errorf("save stack %s: %w", name, err)
		}
	}
	for _, name := range names {
		want, err := src.LoadStack(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("reload stack %s: %w", name, err)
		}
		got, err := dst.LoadStack(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("verify stack %s: %w", name, err)
		}
		if !sameResources(want.Resources, got.Resources) {
			return 0, fmt.Errorf("verify stack %s: resources differ after copy", name)
		}
	}
	return len(names), nil
}

func sameResources(a, b []Resource) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if len(x.Outputs) == 0 && len(y.Outputs) == 0 {
			x.Outputs, y.Outputs = nil, nil
		}
		if !reflect.DeepEqual(x, y) {
			return false
		}
	}
	return true
}
