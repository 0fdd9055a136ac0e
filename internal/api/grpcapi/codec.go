package grpcapi

import (
	"math"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/agentwallet/internal/domain"
)

// maxExactFloat предел целых, которые double хранит без потерь
const maxExactFloat = 1 << 53

// reader копит первую ошибку разбора, как bufio.Scanner
type reader struct {
	in  *structpb.Struct
	err error
}

func (r *reader) field(name string) *structpb.Value {
	if r.in == nil {
		return nil
	}
	return r.in.GetFields()[name]
}

func (r *reader) fail(name, want string) {
	if r.err == nil {
		r.err = domain.Errorf(domain.CodeInvalidArgument, "field %q must be %s", name, want)
	}
}

// require отсутствие любого из полей -> INVALID_ARGUMENT
func (r *reader) require(names ...string) {
	for _, name := range names {
		if r.field(name) == nil && r.err == nil {
			r.err = domain.Errorf(domain.CodeInvalidArgument, "field %q is required", name)
		}
	}
}

func (r *reader) str(name string) string {
	v := r.field(name)
	if v == nil {
		return ""
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		r.fail(name, "a string")
		return ""
	}
	return s.StringValue
}

func (r *reader) boolean(name string) bool {
	v := r.field(name)
	if v == nil {
		return false
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		r.fail(name, "a bool")
		return false
	}
	return b.BoolValue
}

// u64 десятичная строка; number принимаем только целый и точный
func (r *reader) u64(name string) uint64 {
	v := r.field(name)
	if v == nil {
		return 0
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, err := strconv.ParseUint(k.StringValue, 10, 64)
		if err != nil {
			r.fail(name, "a decimal u64 string")
			return 0
		}
		return n
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f < 0 || f > maxExactFloat || f != math.Trunc(f) {
			r.fail(name, "a decimal u64 string")
			return 0
		}
		return uint64(f)
	default:
		r.fail(name, "a decimal u64 string")
		return 0
	}
}

func (r *reader) i64(name string) int64 {
	v := r.field(name)
	if v == nil {
		return 0
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(k.StringValue, 10, 64)
		if err != nil {
			r.fail(name, "a decimal i64 string")
			return 0
		}
		return n
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if math.Abs(f) > maxExactFloat || f != math.Trunc(f) {
			r.fail(name, "a decimal i64 string")
			return 0
		}
		return int64(f)
	default:
		r.fail(name, "a decimal i64 string")
		return 0
	}
}

func (r *reader) walletKey() domain.WalletKey {
	return domain.WalletKey{Org: r.str("org"), AgentID: r.str("agent_id")}
}

func u64s(n uint64) string { return strconv.FormatUint(n, 10) }
func i64s(n int64) string  { return strconv.FormatInt(n, 10) }
