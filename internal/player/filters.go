package player

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ManuGH/lavasync/internal/protocol"
)

// FilterPlugin is the plugin providing the echo and reverb filters.
const FilterPlugin = "lavalink-filter-plugin"

var (
	nightcore = protocol.Timescale{Speed: 1.3, Pitch: 1.3, Rate: 1}
	vaporwave = protocol.Timescale{Speed: 0.85, Pitch: 0.8, Rate: 1}
	karaoke   = protocol.Karaoke{Level: 1, MonoLevel: 1, FilterBand: 220, FilterWidth: 100}

	defaultRotationHz = 0.2
	defaultVibrato    = protocol.Vibrato{Frequency: 10, Depth: 1}
	defaultTremolo    = protocol.Tremolo{Frequency: 4, Depth: 0.8}
	defaultSmoothing  = 20.0
	defaultEcho       = Echo{Delay: 4, Decay: 0.8}
	defaultReverb     = Reverb{
		Delays: []float64{0.037, 0.042, 0.048, 0.053},
		Gains:  []float64{0.84, 0.83, 0.82, 0.81},
	}
)

// AudioOutput is a channel mix preset.
type AudioOutput string

const (
	OutputStereo AudioOutput = "stereo"
	OutputMono   AudioOutput = "mono"
	OutputLeft   AudioOutput = "left"
	OutputRight  AudioOutput = "right"
)

var channelMixes = map[AudioOutput]*protocol.ChannelMix{
	OutputStereo: nil,
	OutputMono:   {LeftToLeft: 0.5, LeftToRight: 0.5, RightToLeft: 0.5, RightToRight: 0.5},
	OutputLeft:   {LeftToLeft: 1, RightToLeft: 1},
	OutputRight:  {LeftToRight: 1, RightToRight: 1},
}

// Echo and Reverb are configured through the filter plugin.
type Echo struct {
	Delay float64 `json:"delay"`
	Decay float64 `json:"decay"`
}

type Reverb struct {
	Delays []float64 `json:"delays"`
	Gains  []float64 `json:"gains"`
}

type pluginFilters struct {
	Echo   *Echo   `json:"echo,omitempty"`
	Reverb *Reverb `json:"reverb,omitempty"`
}

// FilterState summarizes which filters are enabled.
type FilterState struct {
	Nightcore       bool        `json:"nightcore"`
	Vaporwave       bool        `json:"vaporwave"`
	CustomTimescale bool        `json:"customTimescale"`
	Rotation        bool        `json:"rotation"`
	Vibrato         bool        `json:"vibrato"`
	Tremolo         bool        `json:"tremolo"`
	LowPass         bool        `json:"lowPass"`
	Karaoke         bool        `json:"karaoke"`
	Echo            bool        `json:"echo"`
	Reverb          bool        `json:"reverb"`
	Equalizer       bool        `json:"equalizer"`
	AudioOutput     AudioOutput `json:"audioOutput"`
}

func stateOf(f protocol.Filters) FilterState {
	pf := plugins(f)
	s := FilterState{
		Rotation:    f.Rotation != nil,
		Vibrato:     f.Vibrato != nil,
		Tremolo:     f.Tremolo != nil,
		LowPass:     f.LowPass != nil,
		Karaoke:     f.Karaoke != nil,
		Echo:        pf.Echo != nil,
		Reverb:      pf.Reverb != nil,
		Equalizer:   len(f.Equalizer) > 0,
		AudioOutput: OutputStereo,
	}
	if ts := f.Timescale; ts != nil {
		switch *ts {
		case nightcore:
			s.Nightcore = true
		case vaporwave:
			s.Vaporwave = true
		default:
			s.CustomTimescale = true
		}
	}
	if f.ChannelMix != nil {
		s.AudioOutput = ""
		for out, mix := range channelMixes {
			if mix != nil && *mix == *f.ChannelMix {
				s.AudioOutput = out
			}
		}
	}
	return s
}

func plugins(f protocol.Filters) pluginFilters {
	var pf pluginFilters
	if raw, ok := f.PluginFilters[FilterPlugin]; ok {
		_ = json.Unmarshal(raw, &pf)
	}
	return pf
}

func setPlugins(f *protocol.Filters, pf pluginFilters) {
	if pf.Echo == nil && pf.Reverb == nil {
		delete(f.PluginFilters, FilterPlugin)
		if len(f.PluginFilters) == 0 {
			f.PluginFilters = nil
		}
		return
	}
	raw, _ := json.Marshal(pf)
	if f.PluginFilters == nil {
		f.PluginFilters = make(map[string]json.RawMessage, 1)
	}
	f.PluginFilters[FilterPlugin] = raw
}

// FilterManager edits the filters of a player. Every change is sent to the
// node at once.
type FilterManager struct {
	p *Player
}

// Current returns a copy of the filters last acknowledged by the node.
func (m *FilterManager) Current() protocol.Filters {
	m.p.mu.Lock()
	defer m.p.mu.Unlock()
	return m.p.filters.Clone()
}

func (m *FilterManager) State() FilterState {
	return stateOf(m.Current())
}

func (m *FilterManager) apply(ctx context.Context, mutate func(*protocol.Filters)) error {
	if err := m.p.alive(); err != nil {
		return err
	}
	next := m.Current()
	mutate(&next)
	if _, err := m.p.sync(ctx, protocol.UpdatePlayer{Filters: &next}, false); err != nil {
		return fmt.Errorf("update filters: %w", err)
	}
	if m.p.opts.InstaUpdateFiltersFix {
		m.p.mu.Lock()
		m.p.filterFix = true
		m.p.mu.Unlock()
	}
	return nil
}

// require fails when the node is known not to support filter.
func (m *FilterManager) require(filter string) error {
	info, ok := m.p.Node().Info()
	if ok && len(info.Filters) > 0 && !info.HasFilter(filter) {
		return fmt.Errorf("%w: %s", ErrFilterUnavailable, filter)
	}
	return nil
}

func (m *FilterManager) requirePlugin() error {
	info, ok := m.p.Node().Info()
	if ok && !info.HasPlugin(FilterPlugin) {
		return fmt.Errorf("%w: %s", ErrFilterUnavailable, FilterPlugin)
	}
	return nil
}

func (m *FilterManager) toggleTimescale(ctx context.Context, preset protocol.Timescale) error {
	if err := m.require("timescale"); err != nil {
		return err
	}
	return m.apply(ctx, func(f *protocol.Filters) {
		if f.Timescale != nil && *f.Timescale == preset {
			f.Timescale = nil
			return
		}
		ts := preset
		f.Timescale = &ts
	})
}

// ToggleNightcore enables the nightcore timescale, replacing any other
// timescale, or disables it.
func (m *FilterManager) ToggleNightcore(ctx context.Context) error {
	return m.toggleTimescale(ctx, nightcore)
}

func (m *FilterManager) ToggleVaporwave(ctx context.Context) error {
	return m.toggleTimescale(ctx, vaporwave)
}

// SetTimescale sets a custom timescale; nil removes it.
func (m *FilterManager) SetTimescale(ctx context.Context, ts *protocol.Timescale) error {
	if err := m.require("timescale"); err != nil {
		return err
	}
	return m.apply(ctx, func(f *protocol.Filters) {
		if ts == nil {
			f.Timescale = nil
			return
		}
		v := *ts
		f.Timescale = &v
	})
}

// ToggleRotation toggles the rotation filter; hz <= 0 uses 0.2 Hz.
func (m *FilterManager) ToggleRotation(ctx context.Context, hz float64) error {
	if err := m.require("rotation"); err != nil {
		return err
	}
	if hz <= 0 {
		hz = defaultRotationHz
	}
	return m.apply(ctx, func(f *protocol.Filters) {
		if f.Rotation != nil {
			f.Rotation = nil
			return
		}
		f.Rotation = &protocol.Rotation{RotationHz: hz}
	})
}

// ToggleVibrato toggles the vibrato filter; a zero value uses the preset.
func (m *FilterManager) ToggleVibrato(ctx context.Context, v protocol.Vibrato) error {
	if err := m.require("vibrato"); err != nil {
		return err
	}
	if v == (protocol.Vibrato{}) {
		v = defaultVibrato
	}
	return m.apply(ctx, func(f *protocol.Filters) {
		if f.Vibrato != nil {
			f.Vibrato = nil
			return
		}
		f.Vibrato = &v
	})
}

// ToggleTremolo toggles the tremolo filter; a zero value uses the preset.
func (m *FilterManager) ToggleTremolo(ctx context.Context, t protocol.Tremolo) error {
	if err := m.require("tremolo"); err != nil {
		return err
	}
	if t == (protocol.Tremolo{}) {
		t = defaultTremolo
	}
	return m.apply(ctx, func(f *protocol.Filters) {
		if f.Tremolo != nil {
			f.Tremolo = nil
			return
		}
		f.Tremolo = &t
	})
}

// ToggleLowPass toggles the low pass filter; smoothing <= 0 uses 20.
func (m *FilterManager) ToggleLowPass(ctx context.Context, smoothing float64) error {
	if err := m.require("lowPass"); err != nil {
		return err
	}
	if smoothing <= 0 {
		smoothing = defaultSmoothing
	}
	return m.apply(ctx, func(f *protocol.Filters) {
		if f.LowPass != nil {
			f.LowPass = nil
			return
		}
		f.LowPass = &protocol.LowPass{Smoothing: smoothing}
	})
}

func (m *FilterManager) ToggleKaraoke(ctx context.Context) error {
	if err := m.require("karaoke"); err != nil {
		return err
	}
	return m.apply(ctx, func(f *protocol.Filters) {
		if f.Karaoke != nil {
			f.Karaoke = nil
			return
		}
		k := karaoke
		f.Karaoke = &k
	})
}

// SetEQ sets equalizer bands, replacing bands already set. Gains are
// clamped to [-0.25, 1].
func (m *FilterManager) SetEQ(ctx context.Context, bands ...protocol.EqualizerBand) error {
	if err := m.require("equalizer"); err != nil {
		return err
	}
	for _, b := range bands {
		if b.Band < 0 || b.Band > 14 {
			return fmt.Errorf("%w: %d", ErrInvalidBand, b.Band)
		}
	}
	return m.apply(ctx, func(f *protocol.Filters) {
		for _, b := range bands {
			b.Gain = min(max(b.Gain, -0.25), 1)
			replaced := false
			for i := range f.Equalizer {
				if f.Equalizer[i].Band == b.Band {
					f.Equalizer[i] = b
					replaced = true
				}
			}
			if !replaced {
				f.Equalizer = append(f.Equalizer, b)
			}
		}
	})
}

func (m *FilterManager) ClearEQ(ctx context.Context) error {
	return m.apply(ctx, func(f *protocol.Filters) { f.Equalizer = nil })
}

// SetChannelMix applies an audio output preset.
func (m *FilterManager) SetChannelMix(ctx context.Context, out AudioOutput) error {
	mix, ok := channelMixes[out]
	if !ok {
		return fmt.Errorf("%w: audio output %q", ErrFilterUnavailable, out)
	}
	if err := m.require("channelMix"); err != nil {
		return err
	}
	return m.apply(ctx, func(f *protocol.Filters) {
		if mix == nil {
			f.ChannelMix = nil
			return
		}
		v := *mix
		f.ChannelMix = &v
	})
}

// ToggleEcho toggles the plugin echo filter; a zero value uses the preset.
func (m *FilterManager) ToggleEcho(ctx context.Context, e Echo) error {
	if err := m.requirePlugin(); err != nil {
		return err
	}
	if e == (Echo{}) {
		e = defaultEcho
	}
	return m.apply(ctx, func(f *protocol.Filters) {
		pf := plugins(*f)
		if pf.Echo != nil {
			pf.Echo = nil
		} else {
			pf.Echo = &e
		}
		setPlugins(f, pf)
	})
}

// ToggleReverb toggles the plugin reverb filter; nil uses the preset.
func (m *FilterManager) ToggleReverb(ctx context.Context, r *Reverb) error {
	if err := m.requirePlugin(); err != nil {
		return err
	}
	if r == nil {
		r = &defaultReverb
	}
	rv := Reverb{Delays: append([]float64(nil), r.Delays...), Gains: append([]float64(nil), r.Gains...)}
	return m.apply(ctx, func(f *protocol.Filters) {
		pf := plugins(*f)
		if pf.Reverb != nil {
			pf.Reverb = nil
		} else {
			pf.Reverb = &rv
		}
		setPlugins(f, pf)
	})
}

// ResetFilters removes every filter. With volume applied as filter the
// volume filter is kept.
func (m *FilterManager) ResetFilters(ctx context.Context) error {
	return m.apply(ctx, func(f *protocol.Filters) {
		vol := f.Volume
		*f = protocol.Filters{}
		if m.p.opts.ApplyVolumeAsFilter {
			f.Volume = vol
		}
	})
}
