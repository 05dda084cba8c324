package ticker

import (
	"encoding/binary"
	"fmt"
	"time"

	"kitefeed/internal/model"
)

// Known packet sizes. The wire does not label packets; the layout is
// inferred from the declared length (Kite convention).
const (
	ltpPacketLen   = 8
	indexPacketLen = 28
	quotePacketLen = 44
	fullPacketLen  = 184
)

// priceDivisor converts wire prices (paise as int32) into rupees.
const priceDivisor = 100.0

// DecodeError describes a single sub-frame that could not be decoded.
// A malformed packet never discards the rest of the batch.
type DecodeError struct {
	PacketIndex int    `json:"packet_index"`
	Length      int    `json:"length"`
	Reason      string `json:"reason"`
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("packet %d (len %d): %s", e.PacketIndex, e.Length, e.Reason)
}

// DecodeFrame splits a binary websocket message into packets and decodes
// each one:
//   - first 2 bytes: number of packets (u16, big-endian)
//   - per packet: 2-byte length (u16, big-endian) followed by the payload
//
// A frame shorter than 2 bytes, or one declaring zero packets, is the
// server heartbeat and yields nothing. Packets with an unknown length are
// skipped with a DecodeError; a truncated frame stops consumption but keeps
// everything decoded so far. DecodeFrame never panics on arbitrary input.
func DecodeFrame(frame []byte, receivedAt time.Time) ([]model.Tick, []DecodeError) {
	if len(frame) < 2 {
		return nil, nil
	}

	count := int(binary.BigEndian.Uint16(frame[0:2]))
	if count == 0 {
		return nil, nil
	}

	ticks := make([]model.Tick, 0, count)
	var errs []DecodeError
	offset := 2

	for i := 0; i < count; i++ {
		if offset+2 > len(frame) {
			errs = append(errs, DecodeError{PacketIndex: i, Reason: "truncated length prefix"})
			break
		}
		length := int(binary.BigEndian.Uint16(frame[offset : offset+2]))
		offset += 2

		if offset+length > len(frame) {
			errs = append(errs, DecodeError{PacketIndex: i, Length: length, Reason: "payload exceeds frame"})
			break
		}
		packet := frame[offset : offset+length]
		offset += length

		tick, err := decodePacket(packet, receivedAt)
		if err != nil {
			errs = append(errs, DecodeError{PacketIndex: i, Length: length, Reason: err.Error()})
			continue
		}
		ticks = append(ticks, tick)
	}

	return ticks, errs
}

func decodePacket(packet []byte, receivedAt time.Time) (model.Tick, error) {
	// Every known layout starts with instrument token and last price.
	if len(packet) < ltpPacketLen {
		return model.Tick{}, fmt.Errorf("packet too short")
	}

	switch len(packet) {
	case ltpPacketLen:
		return decodeLTP(packet, receivedAt), nil
	case indexPacketLen:
		return decodeIndexQuote(packet, receivedAt), nil
	case quotePacketLen:
		return decodeQuote(packet, receivedAt), nil
	case fullPacketLen:
		return decodeFull(packet, receivedAt), nil
	default:
		return model.Tick{}, fmt.Errorf("unknown packet length")
	}
}

func decodeLTP(p []byte, receivedAt time.Time) model.Tick {
	return model.Tick{
		InstrumentToken: readUint32(p, 0),
		Mode:            model.ModeLTP,
		LastPrice:       readPrice(p, 4),
		ReceivedAt:      receivedAt,
	}
}

// decodeIndexQuote handles the 28-byte index layout: token, last price,
// then high, low, open, close, change. Note the H,L,O,C ordering, which
// differs from the quote layout, and that change arrives on the wire
// instead of being derived.
func decodeIndexQuote(p []byte, receivedAt time.Time) model.Tick {
	return model.Tick{
		InstrumentToken: readUint32(p, 0),
		Mode:            model.ModeQuote,
		IsIndex:         true,
		LastPrice:       readPrice(p, 4),
		OHLC: &model.OHLC{
			High:  readPrice(p, 8),
			Low:   readPrice(p, 12),
			Open:  readPrice(p, 16),
			Close: readPrice(p, 20),
		},
		Change:     readPrice(p, 24),
		ReceivedAt: receivedAt,
	}
}

// decodeQuote handles the 44-byte layout: token, last price, last quantity,
// average price, volume, total buy/sell quantity, then O,H,L,C.
func decodeQuote(p []byte, receivedAt time.Time) model.Tick {
	lastPrice := readPrice(p, 4)
	closePrice := readPrice(p, 40)

	return model.Tick{
		InstrumentToken:    readUint32(p, 0),
		Mode:               model.ModeQuote,
		LastPrice:          lastPrice,
		LastQuantity:       readUint32(p, 8),
		AverageTradedPrice: readPrice(p, 12),
		VolumeTraded:       readUint32(p, 16),
		TotalBuyQuantity:   readUint32(p, 20),
		TotalSellQuantity:  readUint32(p, 24),
		OHLC: &model.OHLC{
			Open:  readPrice(p, 28),
			High:  readPrice(p, 32),
			Low:   readPrice(p, 36),
			Close: closePrice,
		},
		Change:     changeFromClose(lastPrice, closePrice),
		ReceivedAt: receivedAt,
	}
}

// decodeFull handles the 184-byte layout: the quote fields, then last trade
// time, open interest, OI day high/low, exchange timestamp, and ten depth
// levels of 12 bytes each (five buy, five sell).
func decodeFull(p []byte, receivedAt time.Time) model.Tick {
	tick := decodeQuote(p[:quotePacketLen], receivedAt)
	tick.Mode = model.ModeFull
	tick.LastTradeTime = unixTime(readUint32(p, 44))
	tick.OpenInterest = readUint32(p, 48)
	tick.OIDayHigh = readUint32(p, 52)
	tick.OIDayLow = readUint32(p, 56)
	tick.ExchangeTimestamp = unixTime(readUint32(p, 60))

	var depth model.MarketDepth
	offset := 64
	for i := 0; i < 5; i++ {
		depth.Buy[i] = readDepthLevel(p, offset)
		offset += 12
	}
	for i := 0; i < 5; i++ {
		depth.Sell[i] = readDepthLevel(p, offset)
		offset += 12
	}
	tick.Depth = &depth

	return tick
}

// readDepthLevel decodes one 12-byte level: quantity (u32), price
// (i32 paise), orders (u16), and 2 reserved bytes.
func readDepthLevel(p []byte, offset int) model.DepthLevel {
	return model.DepthLevel{
		Quantity: readUint32(p, offset),
		Price:    readPrice(p, offset+4),
		Orders:   binary.BigEndian.Uint16(p[offset+8 : offset+10]),
	}
}

func changeFromClose(lastPrice, closePrice float64) float64 {
	if closePrice == 0 {
		return 0
	}
	return (lastPrice - closePrice) / closePrice
}

func readUint32(p []byte, offset int) uint32 {
	return binary.BigEndian.Uint32(p[offset : offset+4])
}

func readPrice(p []byte, offset int) float64 {
	return float64(int32(binary.BigEndian.Uint32(p[offset:offset+4]))) / priceDivisor
}

func unixTime(sec uint32) *time.Time {
	t := time.Unix(int64(sec), 0).UTC()
	return &t
}
