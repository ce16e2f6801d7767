package memory_test

import (
	"testing"

	"accounts/internal/storage/memory"
	"accounts/internal/storage/storagetest"
)

func TestStorage(t *testing.T) {
	storagetest.Run(t, memory.New())
}
