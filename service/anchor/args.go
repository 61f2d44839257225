package anchor

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// EncodeArgs Borsh-encodes values in IDL argument order. Values may be given
// as the exact Go type (uint64, solanago.PublicKey, ...) or loosely as int,
// float64 or string, which is what the CLI and JSON inputs produce.
func EncodeArgs(args []IDLArg, values []any) ([]byte, error) {
	if len(values) != len(args) {
		return nil, fmt.Errorf("expected %d argument(s), got %d", len(args), len(values))
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	for i, arg := range args {
		v, err := coerceArg(arg.Type, values[i])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", arg.Name, err)
		}
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("argument %s: failed to encode: %w", arg.Name, err)
		}
	}
	return buf.Bytes(), nil
}

// coerceArg converts v into the Go type whose Borsh encoding matches the
// IDL type.
func coerceArg(typ string, v any) (any, error) {
	switch typ {
	case "bool":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
	case "u8", "u16", "u32", "u64":
		n, err := toUint(v, bitSize(typ))
		if err != nil {
			return nil, err
		}
		switch typ {
		case "u8":
			return uint8(n), nil
		case "u16":
			return uint16(n), nil
		case "u32":
			return uint32(n), nil
		default:
			return n, nil
		}
	case "i8", "i16", "i32", "i64":
		n, err := toInt(v, bitSize(typ))
		if err != nil {
			return nil, err
		}
		switch typ {
		case "i8":
			return int8(n), nil
		case "i16":
			return int16(n), nil
		case "i32":
			return int32(n), nil
		default:
			return n, nil
		}
	case "string":
		if s, ok := v.(string); ok {
			return s, nil
		}
	case "bytes":
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case "pubkey":
		switch pk := v.(type) {
		case solanago.PublicKey:
			return pk, nil
		case string:
			key, err := solanago.PublicKeyFromBase58(pk)
			if err != nil {
				return nil, fmt.Errorf("invalid pubkey %q: %w", pk, err)
			}
			return key, nil
		}
	default:
		return nil, fmt.Errorf("unsupported argument type %s", typ)
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, typ)
}

func bitSize(typ string) int {
	n, _ := strconv.Atoi(typ[1:])
	return n
}

// Exact float64 values of 2^64 and 2^63. math.MaxUint64 and math.MaxInt64
// round up to these when converted, so the bounds must be exclusive.
const (
	maxUint64Float = 18446744073709551616.0
	maxInt64Float  = 9223372036854775808.0
)

func toUint(v any, bits int) (uint64, error) {
	var n uint64
	switch x := v.(type) {
	case uint8:
		n = uint64(x)
	case uint16:
		n = uint64(x)
	case uint32:
		n = uint64(x)
	case uint64:
		n = x
	case uint:
		n = uint64(x)
	case int:
		if x < 0 {
			return 0, fmt.Errorf("negative value %d for unsigned type", x)
		}
		n = uint64(x)
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("negative value %d for unsigned type", x)
		}
		n = uint64(x)
	case float64:
		if x < 0 || x != math.Trunc(x) || x >= maxUint64Float {
			return 0, fmt.Errorf("value %v is not an unsigned integer", x)
		}
		n = uint64(x)
	case string:
		return strconv.ParseUint(x, 10, bits)
	default:
		return 0, fmt.Errorf("cannot use %T as u%d", v, bits)
	}
	if bits < 64 && n > (uint64(1)<<bits)-1 {
		return 0, fmt.Errorf("value %d overflows u%d", n, bits)
	}
	return n, nil
}

func toInt(v any, bits int) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case int:
		n = int64(x)
	case float64:
		if x != math.Trunc(x) || x >= maxInt64Float || x < math.MinInt64 {
			return 0, fmt.Errorf("value %v is not an integer", x)
		}
		n = int64(x)
	case string:
		return strconv.ParseInt(x, 10, bits)
	default:
		return 0, fmt.Errorf("cannot use %T as i%d", v, bits)
	}
	if bits < 64 {
		limit := int64(1) << (bits - 1)
		if n < -limit || n >= limit {
			return 0, fmt.Errorf("value %d overflows i%d", n, bits)
		}
	}
	return n, nil
}
