package mediasoup

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mathrand "math/rand"
	"strconv"
	"strings"
	"sync"
)

// Dynamic payload type ranges scanned in order when a codec or its paired
// RTX codec does not pin a preferredPayloadType, per spec.md §4.2.
var dynamicPayloadTypeRanges = [][2]int{{96, 127}, {35, 65}}

// RtpMapping is the outcome of mapping one Producer's RTP parameters onto a
// Router's finalized capabilities (spec.md §4.2).
type RtpMapping struct {
	Codecs    []RtpMappingCodec
	Encodings []RtpMappingEncoding
}

// RtpMappingCodec maps one Producer-side payload type to the Router's
// mapped payload type.
type RtpMappingCodec struct {
	PayloadType       int
	MappedPayloadType int
}

// RtpMappingEncoding maps one Producer-side encoding identity to the
// engine-side mapped ssrc.
type RtpMappingEncoding struct {
	Ssrc       uint32
	Rid        string
	MappedSsrc uint32
}

var ssrcCounter struct {
	mu   sync.Mutex
	rand *mathrand.Rand
}

func init() {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(err)
	}
	ssrcCounter.rand = mathrand.New(mathrand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))
}

// generateSsrc allocates a fresh random ssrc from the per-process generator
// (spec.md §4.2: "mapped_ssrc is a fresh random u32 allocated from a
// per-process counter").
func generateSsrc() uint32 {
	ssrcCounter.mu.Lock()
	defer ssrcCounter.mu.Unlock()
	for {
		v := ssrcCounter.rand.Uint32()
		if v != 0 {
			return v
		}
	}
}

// codecsMatch reports whether a producer-supplied codec matches a router
// capability codec, per spec.md §4.2 step 1: MIME type, clock rate,
// channels, and (for H264) packetization-mode/profile-level-id asymmetry.
func codecsMatch(mimeTypeA string, clockRateA, channelsA int, paramsA H, cap RtpCodecCapability) bool {
	if !strings.EqualFold(mimeTypeA, cap.MimeType) {
		return false
	}
	if clockRateA != cap.ClockRate {
		return false
	}
	if mimeTypeKind(mimeTypeA) == MediaKind_Audio {
		ca, cb := channelsA, cap.Channels
		if ca == 0 {
			ca = 1
		}
		if cb == 0 {
			cb = 1
		}
		if ca != cb {
			return false
		}
	}
	if strings.EqualFold(mimeTypeA, "video/H264") || strings.EqualFold(mimeTypeA, "video/H265") {
		return h264ParametersCompatible(paramsA, cap.Parameters)
	}
	return true
}

// h264ParametersCompatible implements a pragmatic subset of the RFC 6184
// asymmetry rules required by spec.md §4.2: packetization-mode must match
// exactly (it is not negotiable), and when both sides carry profile-level-id
// only the profile indication (its first two hex digits) must agree. The
// level is never compared, and level-asymmetry-allowed is not read.
func h264ParametersCompatible(a, b H) bool {
	if intParam(a, "packetization-mode") != intParam(b, "packetization-mode") {
		return false
	}

	profileA, okA := profileIndication(a)
	profileB, okB := profileIndication(b)
	if !okA || !okB {
		// Either side omitted profile-level-id: treat as compatible baseline profile.
		return true
	}
	return profileA == profileB
}

func intParam(h H, key string) int {
	if h == nil {
		return 0
	}
	switch v := h[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func profileIndication(h H) (string, bool) {
	if h == nil {
		return "", false
	}
	s, ok := h["profile-level-id"].(string)
	if !ok || len(s) < 2 {
		return "", false
	}
	return strings.ToLower(s[:2]), true
}

// generateRouterRtpCapabilities finalizes the application-supplied media
// codec list into the Router's RtpCapabilities, synthesizing an RTX codec
// for every video codec (spec.md §4.2).
func generateRouterRtpCapabilities(mediaCodecs []RtpCodecCapability) (RtpCapabilities, error) {
	if len(mediaCodecs) == 0 {
		return RtpCapabilities{}, &BadRtpParametersError{Reason: "mediaCodecs cannot be empty"}
	}

	used := make(map[int]bool)
	caps := RtpCapabilities{
		HeaderExtensions: append([]RtpHeaderExtension(nil), supportedRtpCapabilities.HeaderExtensions...),
	}

	allocatePayloadType := func() (int, error) {
		for _, r := range dynamicPayloadTypeRanges {
			for pt := r[0]; pt <= r[1]; pt++ {
				if !used[pt] {
					used[pt] = true
					return pt, nil
				}
			}
		}
		return 0, ErrCannotAllocate
	}

	for _, codec := range mediaCodecs {
		supported, ok := findSupportedCodec(codec)
		if !ok {
			return RtpCapabilities{}, &UnsupportedCodecError{MimeType: codec.MimeType}
		}

		finalized := supported
		finalized.Parameters = mergeParameters(supported.Parameters, codec.Parameters)

		if len(codec.RtcpFeedback) > 0 {
			finalized.RtcpFeedback = append([]RtcpFeedback(nil), codec.RtcpFeedback...)
		} else {
			finalized.RtcpFeedback = append([]RtcpFeedback(nil), supported.RtcpFeedback...)
		}

		var pt int
		if codec.PreferredPayloadType != 0 {
			pt = codec.PreferredPayloadType
			if used[pt] {
				return RtpCapabilities{}, &BadRtpParametersError{
					Reason: fmt.Sprintf("duplicate payload type %d", pt),
				}
			}
			used[pt] = true
		} else {
			var err error
			pt, err = allocatePayloadType()
			if err != nil {
				return RtpCapabilities{}, err
			}
		}
		finalized.PreferredPayloadType = pt
		caps.Codecs = append(caps.Codecs, finalized)

		if finalized.Kind == MediaKind_Video {
			rtxPt, err := allocatePayloadType()
			if err != nil {
				return RtpCapabilities{}, err
			}
			rtx := RtpCodecCapability{
				Kind:                 MediaKind_Video,
				MimeType:             "video/rtx",
				ClockRate:            finalized.ClockRate,
				PreferredPayloadType: rtxPt,
				Parameters:           H{"apt": pt},
			}
			caps.Codecs = append(caps.Codecs, rtx)
		}
	}

	return caps, nil
}

func mergeParameters(base, override H) H {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := H{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func findSupportedCodec(codec RtpCodecCapability) (RtpCodecCapability, bool) {
	for _, c := range supportedRtpCapabilities.Codecs {
		if codecsMatch(codec.MimeType, codec.ClockRate, codec.Channels, codec.Parameters, c) {
			return c, true
		}
	}
	return RtpCodecCapability{}, false
}

// getProducerRtpParametersMapping computes the codec and encoding mapping
// from a Producer's declared RTP parameters onto the Router's finalized
// capabilities (spec.md §4.2 "Producer RTP-parameters mapping").
func getProducerRtpParametersMapping(params RtpParameters, caps RtpCapabilities) (RtpMapping, error) {
	var mapping RtpMapping

	for _, codec := range params.Codecs {
		if mimeTypeIsRtx(codec.MimeType) {
			continue
		}

		matched := false
		for _, cap := range caps.Codecs {
			if mimeTypeIsRtx(cap.MimeType) {
				continue
			}
			if codecsMatch(codec.MimeType, codec.ClockRate, codec.Channels, codec.Parameters, cap) {
				mapping.Codecs = append(mapping.Codecs, RtpMappingCodec{
					PayloadType:       codec.PayloadType,
					MappedPayloadType: cap.PreferredPayloadType,
				})
				matched = true
				break
			}
		}
		if !matched {
			return RtpMapping{}, &UnsupportedCodecError{MimeType: codec.MimeType}
		}
	}

	for _, enc := range params.Encodings {
		mapping.Encodings = append(mapping.Encodings, RtpMappingEncoding{
			Ssrc:       enc.Ssrc,
			Rid:        enc.Rid,
			MappedSsrc: generateSsrc(),
		})
	}

	return mapping, nil
}

// getConsumableRtpParameters rewrites a Producer's RTP parameters into the
// router-side "consumable" form from which every per-consumer translation
// is derived (spec.md §4.2).
func getConsumableRtpParameters(kind MediaKind, params RtpParameters, caps RtpCapabilities, mapping RtpMapping) RtpParameters {
	consumable := RtpParameters{}

	capByPT := map[int]RtpCodecCapability{}
	for _, c := range caps.Codecs {
		capByPT[c.PreferredPayloadType] = c
	}

	for _, codec := range params.Codecs {
		if mimeTypeIsRtx(codec.MimeType) {
			continue
		}
		mappedPT := codec.PayloadType
		for _, m := range mapping.Codecs {
			if m.PayloadType == codec.PayloadType {
				mappedPT = m.MappedPayloadType
				break
			}
		}
		routerCap := capByPT[mappedPT]

		consumableCodec := RtpCodecParameters{
			MimeType:     codec.MimeType,
			PayloadType:  mappedPT,
			ClockRate:    codec.ClockRate,
			Channels:     codec.Channels,
			Parameters:   codec.Parameters,
			RtcpFeedback: append([]RtcpFeedback(nil), routerCap.RtcpFeedback...),
		}
		consumable.Codecs = append(consumable.Codecs, consumableCodec)

		// Paired RTX, if the router capability set has one for this payload type.
		for _, c := range caps.Codecs {
			if mimeTypeIsRtx(c.MimeType) && intParam(c.Parameters, "apt") == mappedPT {
				consumable.Codecs = append(consumable.Codecs, RtpCodecParameters{
					MimeType:    c.MimeType,
					PayloadType: c.PreferredPayloadType,
					ClockRate:   c.ClockRate,
					Parameters:  H{"apt": mappedPT},
				})
				break
			}
		}
	}

	for _, ext := range caps.HeaderExtensions {
		if ext.Kind != "" && ext.Kind != kind {
			continue
		}
		consumable.HeaderExtensions = append(consumable.HeaderExtensions, RtpHeaderExtensionParameters{
			Uri: ext.Uri,
			Id:  ext.PreferredId,
		})
	}

	for _, enc := range params.Encodings {
		mappedSsrc := enc.Ssrc
		for _, m := range mapping.Encodings {
			if m.Ssrc == enc.Ssrc && m.Rid == enc.Rid {
				mappedSsrc = m.MappedSsrc
				break
			}
		}
		consumable.Encodings = append(consumable.Encodings, RtpEncodingParameters{
			Ssrc:            mappedSsrc,
			MaxBitrate:      enc.MaxBitrate,
			ScalabilityMode: enc.ScalabilityMode,
		})
	}

	consumable.Rtcp = RtcpParameters{
		Cname:       params.Rtcp.Cname,
		ReducedSize: true,
		Mux:         true,
	}

	return consumable
}

// canConsumeCapabilities reports whether remoteCaps shares at least one
// media codec with consumable, i.e. whether a Consumer could be built.
func canConsumeCapabilities(consumable RtpParameters, remoteCaps RtpCapabilities) bool {
	for _, codec := range consumable.Codecs {
		if mimeTypeIsRtx(codec.MimeType) {
			continue
		}
		for _, rc := range remoteCaps.Codecs {
			if strings.EqualFold(codec.MimeType, rc.MimeType) && codec.ClockRate == rc.ClockRate {
				return true
			}
		}
	}
	return false
}

// midCounter hands out sequential per-transport MID strings ("0", "1", ...).
type midCounter struct {
	mu    sync.Mutex
	value int
}

func (c *midCounter) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	mid := strconv.Itoa(c.value)
	c.value++
	return mid
}

// getConsumerRtpParameters derives the per-consumer RTP parameters for a
// normal (non-pipe) Consumer (spec.md §4.2).
func getConsumerRtpParameters(consumable RtpParameters, remoteCaps RtpCapabilities, sourceEncodings []RtpEncodingParameters) (RtpParameters, error) {
	result := RtpParameters{Rtcp: consumable.Rtcp}

	var chosenMedia *RtpCodecParameters
	var remoteMediaCap *RtpCodecCapability
	for i := range consumable.Codecs {
		codec := consumable.Codecs[i]
		if mimeTypeIsRtx(codec.MimeType) {
			continue
		}
		for j := range remoteCaps.Codecs {
			rc := remoteCaps.Codecs[j]
			if strings.EqualFold(codec.MimeType, rc.MimeType) && codec.ClockRate == rc.ClockRate {
				chosenMedia = &codec
				remoteMediaCap = &rc
				break
			}
		}
		if chosenMedia != nil {
			break
		}
	}
	if chosenMedia == nil {
		return RtpParameters{}, ErrBadConsumerRtpParameters
	}

	feedback := intersectFeedback(chosenMedia.RtcpFeedback, remoteMediaCap.RtcpFeedback)
	mediaOut := RtpCodecParameters{
		MimeType:     chosenMedia.MimeType,
		PayloadType:  chosenMedia.PayloadType,
		ClockRate:    chosenMedia.ClockRate,
		Channels:     chosenMedia.Channels,
		Parameters:   chosenMedia.Parameters,
		RtcpFeedback: feedback,
	}
	result.Codecs = append(result.Codecs, mediaOut)

	remoteHasRtx := false
	for _, rc := range remoteCaps.Codecs {
		if mimeTypeIsRtx(rc.MimeType) {
			remoteHasRtx = true
			break
		}
	}

	var rtxCodec *RtpCodecParameters
	if remoteHasRtx {
		for i := range consumable.Codecs {
			c := consumable.Codecs[i]
			if mimeTypeIsRtx(c.MimeType) && intParam(c.Parameters, "apt") == chosenMedia.PayloadType {
				rtxCodec = &c
				result.Codecs = append(result.Codecs, *rtxCodec)
				break
			}
		}
	}

	for _, ext := range consumable.HeaderExtensions {
		for _, re := range remoteCaps.HeaderExtensions {
			if ext.Uri == re.Uri {
				result.HeaderExtensions = append(result.HeaderExtensions, ext)
				break
			}
		}
	}

	encoding := RtpEncodingParameters{Ssrc: generateSsrc()}
	if rtxCodec != nil {
		encoding.Rtx = &RtpEncodingParametersRtx{Ssrc: generateSsrc()}
	}

	spatialLayers, temporalLayers := simulcastLayerCounts(sourceEncodings)
	if spatialLayers > 1 || temporalLayers > 1 {
		encoding.ScalabilityMode = fmt.Sprintf("S%dT%d", spatialLayers, temporalLayers)
	}
	encoding.MaxBitrate = maxBitrateOf(sourceEncodings)

	result.Encodings = []RtpEncodingParameters{encoding}

	return result, nil
}

func intersectFeedback(a, b []RtcpFeedback) []RtcpFeedback {
	var out []RtcpFeedback
	for _, fa := range a {
		for _, fb := range b {
			if fa.Type == fb.Type && fa.Parameter == fb.Parameter {
				out = append(out, fa)
				break
			}
		}
	}
	return out
}

func simulcastLayerCounts(encodings []RtpEncodingParameters) (spatial, temporal int) {
	spatial = len(encodings)
	if spatial == 0 {
		spatial = 1
	}
	temporal = 1
	for _, e := range encodings {
		if e.ScalabilityMode != "" {
			if _, t, ok := parseScalabilityMode(e.ScalabilityMode); ok && t > temporal {
				temporal = t
			}
		}
	}
	return
}

func parseScalabilityMode(mode string) (spatial, temporal int, ok bool) {
	var s, t int
	n, err := fmt.Sscanf(mode, "S%dT%d", &s, &t)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	return s, t, true
}

func maxBitrateOf(encodings []RtpEncodingParameters) int {
	max := 0
	for _, e := range encodings {
		if e.MaxBitrate > max {
			max = e.MaxBitrate
		}
	}
	return max
}

// pipeFeedback is the restricted feedback subset forwarded verbatim between
// routers (spec.md §4.2 "Pipe consumer RTP parameters").
var pipeFeedback = map[string]bool{"nack:pli": true, "ccm:fir": true}

// getPipeConsumerRtpParameters preserves every source encoding verbatim for
// full-fidelity router-to-router relaying, per spec.md §4.2.
func getPipeConsumerRtpParameters(consumable RtpParameters, enableRtx bool) RtpParameters {
	result := RtpParameters{Rtcp: consumable.Rtcp}

	for _, codec := range consumable.Codecs {
		isRtx := mimeTypeIsRtx(codec.MimeType)
		if isRtx && !enableRtx {
			continue
		}
		out := codec
		if !isRtx {
			var feedback []RtcpFeedback
			for _, fb := range codec.RtcpFeedback {
				key := fb.Type
				if fb.Parameter != "" {
					key += ":" + fb.Parameter
				}
				if pipeFeedback[key] {
					feedback = append(feedback, fb)
				}
			}
			out.RtcpFeedback = feedback
		}
		result.Codecs = append(result.Codecs, out)
	}

	result.HeaderExtensions = append([]RtpHeaderExtensionParameters(nil), consumable.HeaderExtensions...)

	for _, enc := range consumable.Encodings {
		out := enc
		if !enableRtx {
			out.Rtx = nil
		}
		result.Encodings = append(result.Encodings, out)
	}

	return result
}

// validateRtpParameters performs the soft-validation checks of spec.md
// §4.2: duplicate payload types and RTX codecs without a matching apt.
func validateRtpParameters(params RtpParameters) error {
	if len(params.Codecs) == 0 {
		return &BadRtpParametersError{Reason: "codecs cannot be empty"}
	}

	seen := map[int]bool{}
	mediaPTs := map[int]bool{}
	for _, c := range params.Codecs {
		if seen[c.PayloadType] {
			return &BadRtpParametersError{Reason: fmt.Sprintf("duplicate payload type %d", c.PayloadType)}
		}
		seen[c.PayloadType] = true
		if !mimeTypeIsRtx(c.MimeType) {
			mediaPTs[c.PayloadType] = true
		}
	}
	for _, c := range params.Codecs {
		if mimeTypeIsRtx(c.MimeType) {
			apt := intParam(c.Parameters, "apt")
			if !mediaPTs[apt] {
				return &BadRtpParametersError{Reason: fmt.Sprintf("rtx codec references unknown apt %d", apt)}
			}
		}
	}
	return nil
}
