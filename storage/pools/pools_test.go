package pools

import (
	"bytes"
	"sync"
	"testing"
)

func BenchmarkBufferPooling(b *testing.B) {
	b.Run("WithPool", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			buf := GetBuffer()
			buf.WriteString("SELECT structure_id, start, end FROM filtered_structures")
			for j := 0; j < 100; j++ {
				buf.WriteString(" WHERE stype = ?")
			}
			PutBuffer(buf)
		}
	})

	b.Run("WithoutPool", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			buf := bytes.NewBuffer(nil)
			buf.WriteString("SELECT structure_id, start, end FROM filtered_structures")
			for j := 0; j < 100; j++ {
				buf.WriteString(" WHERE stype = ?")
			}
		}
	})
}

func BenchmarkStringSlicePooling(b *testing.B) {
	b.Run("WithPool", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			s := GetStringSlice()
			for j := 0; j < 20; j++ {
				*s = append(*s, "upos:NOUN")
			}
			PutStringSlice(s)
		}
	})

	b.Run("WithoutPool", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			s := make([]string, 0, 32)
			for j := 0; j < 20; j++ {
				s = append(s, "upos:NOUN")
			}
		}
	})
}

func TestBufferPoolConcurrency(t *testing.T) {
	var wg sync.WaitGroup
	concurrency := 100
	iterations := 1000

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				buf := GetBuffer()
				buf.WriteString("concurrent view render")
				PutBuffer(buf)
			}
		}()
	}

	wg.Wait()
}

func TestBufferPoolSizeLimits(t *testing.T) {
	largeBuf := bytes.NewBuffer(make([]byte, 0, 2*1024*1024))
	PutBuffer(largeBuf)

	newBuf := GetBuffer()
	if newBuf.Cap() > 1024*1024 {
		t.Errorf("pool returned a buffer larger than expected: %d bytes", newBuf.Cap())
	}
	PutBuffer(newBuf)
}

func TestStringSlicePoolReset(t *testing.T) {
	s := GetStringSlice()
	*s = append(*s, "a", "b", "c")
	PutStringSlice(s)

	s2 := GetStringSlice()
	if len(*s2) != 0 {
		t.Errorf("pool returned non-empty slice: %d elements", len(*s2))
	}
	PutStringSlice(s2)
}

func TestStringBuilderPoolReset(t *testing.T) {
	sb := GetStringBuilder()
	sb.WriteString("SELECT 1")
	PutStringBuilder(sb)

	sb2 := GetStringBuilder()
	if sb2.Len() != 0 {
		t.Errorf("pool returned non-empty builder: %d bytes", sb2.Len())
	}
	PutStringBuilder(sb2)
}
