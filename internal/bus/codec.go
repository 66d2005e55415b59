package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrUnsupportedMessage is returned by codecs for unknown message types.
var ErrUnsupportedMessage = errors.New("unsupported message type")

// Codec turns messages into payload bytes.
type Codec interface {
	Encode(Message) ([]byte, error)
	ContentType() string
}

// NewCodec returns the codec named by encoding ("proto" or "json").
func NewCodec(encoding string) (Codec, error) {
	switch encoding {
	case "", "proto":
		return ProtoCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	}
	return nil, fmt.Errorf("unknown encoding %q", encoding)
}

// JSONCodec encodes messages as JSON.
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Encode(m Message) ([]byte, error) {
	switch m.(type) {
	case *PointCloudMessage, *ImuMessage:
		return json.Marshal(m)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, m)
}

// ProtoCodec encodes messages in protobuf wire format using the field
// numbers of the sensor_msgs definitions:
//
//	Header     { Time stamp = 1; string frame_id = 2; }
//	Time       { int32 sec = 1; uint32 nanosec = 2; }
//	Point32    { float x = 1; float y = 2; float z = 3; }
//	PointCloud { Header header = 1; repeated Point32 points = 2; }
//	Imu        { Header header = 1; Quaternion orientation = 2;
//	             repeated double orientation_covariance = 3; ... }
type ProtoCodec struct{}

func (ProtoCodec) ContentType() string { return "application/x-protobuf" }

func (ProtoCodec) Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case *PointCloudMessage:
		return appendPointCloud(nil, msg), nil
	case *ImuMessage:
		return appendImu(nil, msg), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, m)
}

func appendTime(b []byte, t Time) []byte {
	if t.Sec != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(t.Sec)))
	}
	if t.Nanosec != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.Nanosec))
	}
	return b
}

func appendHeader(b []byte, h Header) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, appendTime(nil, h.Stamp))
	if h.FrameID != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, h.FrameID)
	}
	return b
}

func appendPoint(b []byte, p Point32) []byte {
	for i, v := range [3]float32{p.X, p.Y, p.Z} {
		if v == 0 {
			continue
		}
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

func appendPointCloud(b []byte, m *PointCloudMessage) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, appendHeader(nil, m.Header))
	var pt []byte
	for _, p := range m.Points {
		pt = appendPoint(pt[:0], p)
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, pt)
	}
	return b
}

func appendDoubles(b []byte, num protowire.Number, vs ...float64) []byte {
	for i, v := range vs {
		if v == 0 {
			continue
		}
		b = protowire.AppendTag(b, num+protowire.Number(i), protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func appendPacked(b []byte, num protowire.Number, vs [9]float64) []byte {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendImu(b []byte, m *ImuMessage) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, appendHeader(nil, m.Header))

	q := m.Orientation
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, appendDoubles(nil, 1, q.X, q.Y, q.Z, q.W))
	b = appendPacked(b, 3, m.OrientationCovariance)

	av := m.AngularVelocity
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, appendDoubles(nil, 1, av.X, av.Y, av.Z))
	b = appendPacked(b, 5, m.AngularVelocityCovariance)

	la := m.LinearAcceleration
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendBytes(b, appendDoubles(nil, 1, la.X, la.Y, la.Z))
	return appendPacked(b, 7, m.LinearAccelerationCovariance)
}

// DecodePointCloud parses a payload produced by ProtoCodec. Unknown fields
// are skipped.
func DecodePointCloud(b []byte) (*PointCloudMessage, error) {
	msg := &PointCloudMessage{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			h, err := decodeHeader(v)
			msg.Header = h
			return err
		case num == 2 && typ == protowire.BytesType:
			p, err := decodePoint(v)
			msg.Points = append(msg.Points, p)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeHeader(b []byte) (Header, error) {
	var h Header
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeFields(v, func(n protowire.Number, t protowire.Type, tv []byte) error {
				if t != protowire.VarintType {
					return nil
				}
				x, l := protowire.ConsumeVarint(tv)
				if l < 0 {
					return protowire.ParseError(l)
				}
				switch n {
				case 1:
					h.Stamp.Sec = int32(x)
				case 2:
					h.Stamp.Nanosec = uint32(x)
				}
				return nil
			})
		case num == 2 && typ == protowire.BytesType:
			h.FrameID = string(v)
		}
		return nil
	})
	return h, err
}

func decodePoint(b []byte) (Point32, error) {
	var p Point32
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.Fixed32Type {
			return nil
		}
		x, l := protowire.ConsumeFixed32(v)
		if l < 0 {
			return protowire.ParseError(l)
		}
		f := math.Float32frombits(x)
		switch num {
		case 1:
			p.X = f
		case 2:
			p.Y = f
		case 3:
			p.Z = f
		}
		return nil
	})
	return p, err
}

// consumeFields walks b, handing each field's raw value to fn. For
// length-delimited fields v is the payload; for scalars v starts at the value.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		v := b
		if typ == protowire.BytesType {
			payload, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("decode field %d: %w", num, protowire.ParseError(m))
			}
			v = payload
			n = m
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("decode field %d: %w", num, protowire.ParseError(n))
			}
		}
		if err := fn(num, typ, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
