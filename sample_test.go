package nvxinlet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleView(t *testing.T) {
	layout := Layout{EEGCount: 8, AuxCount: 1}
	raw := EncodeSample([]int32{1, 2, 3, 4, 5, 6, 7, 8}, []int32{42}, StatusWord(0b0000000100000001), 7)
	if len(raw) != 44 {
		t.Fatalf("len(raw)=%d, want 44", len(raw))
	}
	s, err := NewSample(raw, layout)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		v, err := s.EEG(i)
		if err != nil || v != int32(i+1) {
			t.Errorf("EEG(%d)=%d, %v, want %d", i, v, err, i+1)
		}
	}
	v, err := s.Aux(0)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	in0, err := s.InputTrigger(0)
	require.NoError(t, err)
	assert.True(t, in0)
	out0, err := s.OutputTrigger(0)
	require.NoError(t, err)
	assert.True(t, out0)
	in1, err := s.InputTrigger(1)
	require.NoError(t, err)
	assert.False(t, in1)
	assert.Equal(t, uint32(7), s.Counter())
	assert.Equal(t, layout, s.Layout())
	assert.Equal(t, uint8(1), s.Status().InputTriggers())
	assert.Equal(t, uint16(0), s.Status().Reserved())
}

func TestSampleBounds(t *testing.T) {
	layout := Layout{EEGCount: 2, AuxCount: 1}
	if _, err := NewSample(make([]byte, 19), layout); !errors.Is(err, ErrBounds) {
		t.Errorf("NewSample with short buffer error=%v, want ErrBounds", err)
	}
	s, err := NewSample(EncodeSample([]int32{-5, 6}, []int32{-7}, 0, 1), layout)
	require.NoError(t, err)

	checks := map[string]func() error{
		"EEG(2)":            func() error { _, err := s.EEG(2); return err },
		"EEG(-1)":           func() error { _, err := s.EEG(-1); return err },
		"Aux(1)":            func() error { _, err := s.Aux(1); return err },
		"InputTrigger(8)":   func() error { _, err := s.InputTrigger(8); return err },
		"OutputTrigger(-1)": func() error { _, err := s.OutputTrigger(-1); return err },
		"Channel(3)":        func() error { _, err := s.Channel(3); return err },
	}
	for name, check := range checks {
		if err := check(); !errors.Is(err, ErrBounds) {
			t.Errorf("%s error=%v, want ErrBounds", name, err)
		}
	}

	v, err := s.EEG(0)
	require.NoError(t, err)
	assert.Equal(t, int32(-5), v, "negative values decode as signed")
	v, err = s.Channel(2)
	require.NoError(t, err)
	assert.Equal(t, int32(-7), v)
}

func TestChannelByName(t *testing.T) {
	eeg := make([]int32, 32)
	for i := range eeg {
		eeg[i] = int32(100 + i)
	}
	aux := []int32{-1, -2, -3}
	layout := Layout{EEGCount: 32, AuxCount: 3}
	s, err := NewSample(EncodeSample(eeg, aux, 0, 0), layout)
	require.NoError(t, err)

	tests := []struct {
		name string
		want int32
	}{
		{"Fp1", 100}, {"Fz", 101}, {"Cz", 123}, {"Fp2", 131}, {"AUX1", -1}, {"AUX3", -3},
	}
	for _, tt := range tests {
		got, err := s.ChannelByName(tt.name)
		if err != nil || got != tt.want {
			t.Errorf("ChannelByName(%q)=%d, %v, want %d", tt.name, got, err, tt.want)
		}
	}

	_, err = s.ChannelByName("Xx9")
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = s.ChannelByName("cz")
	assert.ErrorIs(t, err, ErrUnknownChannel, "names are case sensitive")
	_, err = s.ChannelByName("AUX8")
	assert.ErrorIs(t, err, ErrBounds, "AUX8 is named but absent from a 3-AUX layout")
}

func TestChannelNames(t *testing.T) {
	names := ChannelNames(Layout{EEGCount: 34, AuxCount: 2})
	require.Len(t, names, 36)
	assert.Equal(t, "Fp1", names[0])
	assert.Equal(t, "Fp2", names[31])
	assert.Equal(t, "EEG33", names[32])
	assert.Equal(t, "AUX2", names[35])
}

func TestStatusWord(t *testing.T) {
	s := NewStatusWord(0b1010_0001, 0b0000_0100)
	for i := uint(0); i < NumTriggers; i++ {
		wantIn := i == 0 || i == 5 || i == 7
		if s.InputTrigger(i) != wantIn {
			t.Errorf("InputTrigger(%d)=%t, want %t", i, s.InputTrigger(i), wantIn)
		}
		if s.OutputTrigger(i) != (i == 2) {
			t.Errorf("OutputTrigger(%d)=%t, want %t", i, s.OutputTrigger(i), i == 2)
		}
	}
	assert.Equal(t, StatusWord(0x04a1), s)
	assert.Equal(t, uint16(0xbeef), StatusWord(0xbeef0000).Reserved())
}
