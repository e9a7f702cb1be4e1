package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Terminator is the single reserved byte that delimits wire fields. It is
// not permitted inside field content.
const Terminator byte = 0x00

// UnsetFloat is the sentinel the gateway sends on decimal fields whose
// value has not been computed yet. Any decoded value at or above it counts.
const UnsetFloat = math.MaxFloat64

// Reader decodes typed values from a stream of terminator-delimited text
// fields. It must only ever be read from one goroutine at a time.
type Reader struct {
	r *bufio.Reader

	// pending holds the bytes of a field whose read was interrupted, so a
	// deadline expiring mid-field loses nothing when the read resumes.
	pending []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadField blocks until a terminator byte is found and returns the field
// with the terminator stripped. A read that fails on a deadline can be
// retried and resumes where it left off. A stream that ends before a
// terminator is found yields ErrConnectionClosed.
func (r *Reader) ReadField() (string, error) {
	raw, err := r.r.ReadString(Terminator)
	if err != nil {
		r.pending = append(r.pending, raw...)

		if errors.Is(err, io.EOF) {
			return "", ErrConnectionClosed
		}

		return "", err
	}

	field := string(r.pending) + raw[:len(raw)-1]
	r.pending = r.pending[:0]

	return field, nil
}

func (r *Reader) ReadInt() (int, error) {
	field, err := r.ReadField()
	if err != nil {
		return 0, err
	}

	i, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("Failed to parse '%s' as an integer field: %w", field, err)
	}

	return i, nil
}

// ReadIntOptional reads an integer field where an empty field means the
// value is not yet available. The second return is false when absent.
func (r *Reader) ReadIntOptional() (int, bool, error) {
	field, err := r.ReadField()
	if err != nil {
		return 0, false, err
	}

	if field == "" {
		return 0, false, nil
	}

	i, err := strconv.Atoi(field)
	if err != nil {
		return 0, false, fmt.Errorf("Failed to parse '%s' as an integer field: %w", field, err)
	}

	return i, true, nil
}

// ReadBool reads a boolean field. An absent (empty) field is false,
// otherwise any nonzero integer is true.
func (r *Reader) ReadBool() (bool, error) {
	i, present, err := r.ReadIntOptional()
	if err != nil {
		return false, err
	}

	return present && i != 0, nil
}

func (r *Reader) ReadFloat() (float64, error) {
	field, err := r.ReadField()
	if err != nil {
		return 0, err
	}

	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("Failed to parse '%s' as a decimal field: %w", field, err)
	}

	return f, nil
}

// ReadFloatOptional reads a decimal field where either an empty field or the
// UnsetFloat sentinel means the value is not yet available.
func (r *Reader) ReadFloatOptional() (float64, bool, error) {
	field, err := r.ReadField()
	if err != nil {
		return 0, false, err
	}

	if field == "" {
		return 0, false, nil
	}

	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, false, fmt.Errorf("Failed to parse '%s' as a decimal field: %w", field, err)
	}

	if f >= UnsetFloat {
		return 0, false, nil
	}

	return f, true, nil
}

// ReadFloatWithLimit reads a decimal field where any value at or below limit
// means "not yet computed". The conventional limit is -1.
func (r *Reader) ReadFloatWithLimit(limit float64) (float64, bool, error) {
	f, err := r.ReadFloat()
	if err != nil {
		return 0, false, err
	}

	if f <= limit {
		return 0, false, nil
	}

	return f, true, nil
}

// ReadSequence reads an integer count field and then invokes decode that
// many times, strictly in order. Each invocation may itself consume further
// fields from the stream. A count of zero or less yields no invocations.
func (r *Reader) ReadSequence(decode func(i int) error) error {
	n, err := r.ReadInt()
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		if err := decode(i); err != nil {
			return err
		}
	}

	return nil
}

// ReadMapping reads a sequence of key/value field pairs. For duplicate keys
// the later entry wins.
func (r *Reader) ReadMapping() (map[string]string, error) {
	mapping := map[string]string{}

	err := r.ReadSequence(func(int) error {
		key, err := r.ReadField()
		if err != nil {
			return err
		}

		value, err := r.ReadField()
		if err != nil {
			return err
		}

		mapping[key] = value
		return nil
	})

	if err != nil {
		return nil, err
	}

	return mapping, nil
}
