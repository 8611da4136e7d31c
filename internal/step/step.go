// Package step implements resolving one pipeline step descriptor —
// either a named plugin call or a dotted-path mutation/invocation
// against the running machine — into an executable plus its cache tag.
package step

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	lookup "github.com/mcuadros/go-lookup"

	"github.com/fingertip-dev/fingertip/internal/transient"
)

// Result is whatever a step returns; the executor type-asserts it when a
// step hands back a machine handle (e.g. a clone step).
type Result = interface{}

// Descriptor is one step in a pipeline, already split into its callable
// name and its positional/keyword arguments by the tokenizer. A
// Descriptor is either:
//   - a plugin call, e.g. Name: "ansible", Pos: []string{"site.yml"}
//   - a dotted-path invocation, e.g. Name: ".hooks.unseal"
//   - a dotted-path assignment, e.g. Name: ".ram.size", IsAssign + Value: "2G"
type Descriptor struct {
	Name     string
	Pos      []string
	Kw       map[string]string
	IsAssign bool
	Value    string
}

// IsMutation reports whether d addresses the machine directly via a
// dotted path rather than naming a plugin.
func (d Descriptor) IsMutation() bool {
	return strings.HasPrefix(d.Name, ".")
}

// PluginFunc is a named, pipeline-callable step supplied by a backend
// (pkg/backend). Out-of-scope real backends (qemu, podman, …) register
// their own named steps here; only a mock is shipped with this module.
// target is the same machine handle passed to Resolve, so a plugin step
// can mutate it or return a replacement.
type PluginFunc func(ctx context.Context, target interface{}, pos []string, kw map[string]string) (Result, error)

// pluginEntry pairs a step's callable with its declared transient
// policy — a property of the step itself, not of any one call site.
type pluginEntry struct {
	fn     PluginFunc
	policy transient.Declaration
}

// Plugins is the symbol table PluginFunc values (and their declared
// transient policy) are looked up from by Descriptor.Name.
type Plugins struct {
	entries map[string]pluginEntry
}

// NewPlugins returns an empty plugin symbol table.
func NewPlugins() *Plugins {
	return &Plugins{entries: map[string]pluginEntry{}}
}

// Register adds fn under name with the default transient policy
// (transient.Never: the step's output is always cached), overwriting any
// previous registration.
func (p *Plugins) Register(name string, fn PluginFunc) {
	p.entries[name] = pluginEntry{fn: fn}
}

// RegisterPolicy is Register plus an explicit transient.Declaration for
// steps that aren't always cached (e.g. "ssh", declared transient=last).
func (p *Plugins) RegisterPolicy(name string, fn PluginFunc, policy transient.Declaration) {
	p.entries[name] = pluginEntry{fn: fn, policy: policy}
}

// Lookup returns the PluginFunc registered under name, if any.
func (p *Plugins) Lookup(name string) (PluginFunc, bool) {
	e, ok := p.entries[name]
	return e.fn, ok
}

// PolicyFor returns name's declared transient.Declaration (nil — i.e.
// transient.Never — if name is unregistered or declared nothing special).
func (p *Plugins) PolicyFor(name string) transient.Declaration {
	return p.entries[name].policy
}

type parentPathKey struct{}

// WithParentPath attaches the directory a step's cache entry will nest
// under to ctx, so a plugin that builds and returns a brand new machine
// (rather than mutating target in place) knows what ParentPath to stamp on
// it — see internal/executor's classifyReturned.
func WithParentPath(ctx context.Context, parent string) context.Context {
	return context.WithValue(ctx, parentPathKey{}, parent)
}

// ParentPathFromContext retrieves the value WithParentPath attached, if any.
func ParentPathFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(parentPathKey{}).(string)
	return p, ok
}

// Resolved is a step Descriptor bound to a runnable closure and its
// cache tag.
type Resolved struct {
	Tag string
	Run func(ctx context.Context) (Result, error)
}

// Resolve binds d against target (the live machine state dotted paths
// navigate into) and plugins (the symbol table plugin names resolve
// against), producing an executable plus its deterministic cache tag.
func Resolve(target interface{}, plugins *Plugins, d Descriptor) (*Resolved, error) {
	if d.IsAssign {
		path := strings.TrimPrefix(d.Name, ".")
		tag := BuildTag(d.Name, nil, map[string]string{"value": d.Value})
		return &Resolved{
			Tag: tag,
			Run: func(ctx context.Context) (Result, error) {
				return nil, Assign(target, path, d.Value)
			},
		}, nil
	}

	if d.IsMutation() {
		path := strings.TrimPrefix(d.Name, ".")
		tag := BuildTag(d.Name, d.Pos, d.Kw)
		return &Resolved{
			Tag: tag,
			Run: func(ctx context.Context) (Result, error) {
				return Invoke(target, path, d.Pos, d.Kw)
			},
		}, nil
	}

	fn, ok := plugins.Lookup(d.Name)
	if !ok {
		return nil, fmt.Errorf("step: no plugin registered for %q", d.Name)
	}
	tag := BuildTag(d.Name, d.Pos, d.Kw)
	return &Resolved{
		Tag: tag,
		Run: func(ctx context.Context) (Result, error) {
			return fn(ctx, target, d.Pos, d.Kw)
		},
	}, nil
}

// maxTagTail is the longest a tag's argument tail may be before it is
// collapsed to a digest.
const maxTagTail = 20

// BuildTag constructs a cache tag from a module/plugin path plus its
// positional and keyword arguments: "path:pos0:pos1:key=val:…". A tail
// that is long, contains whitespace, or contains a path separator is
// replaced with "::<8-hex-digest>" so that tags stay filesystem-safe and
// bounded in length.
func BuildTag(path string, pos []string, kw map[string]string) string {
	parts := make([]string, 0, len(pos)+len(kw))
	parts = append(parts, pos...)

	keys := make([]string, 0, len(kw))
	for k := range kw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+kw[k])
	}

	if len(parts) == 0 {
		return path
	}

	tail := strings.Join(parts, ":")
	if needsDigestTail(tail) {
		sum := sha256.Sum224([]byte(tail))
		return path + "::" + hex.EncodeToString(sum[:])[:8]
	}
	return path + ":" + tail
}

func needsDigestTail(tail string) bool {
	if len(tail) > maxTagTail {
		return true
	}
	if strings.ContainsAny(tail, " \t\n\r") {
		return true
	}
	if strings.ContainsAny(tail, "/\\") {
		return true
	}
	return false
}

// Assign navigates to path on target via go-lookup and sets it from raw,
// coercing raw's string form to the field's Go type. go-lookup has no
// native Set, so the assignment itself is done with reflect.Value.Set.
func Assign(target interface{}, path, raw string) error {
	v, err := lookup.LookupString(target, path)
	if err != nil {
		return fmt.Errorf("step: resolve %q: %w", path, err)
	}
	if !v.CanSet() {
		return fmt.Errorf("step: field %q is not settable", path)
	}
	return setFromString(v, raw)
}

func setFromString(v reflect.Value, raw string) error {
	if v.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("step: unsupported field kind %s", v.Kind())
	}
	return nil
}

// invokableSignature is the contract a dotted-path method target must
// satisfy to be callable from a step. Keeping this fixed means Invoke can
// use reflect safely: a failed interface assertion is reported as an
// error rather than risking a reflect panic from mismatched arguments.
type invokableSignature = func([]string, map[string]string) (Result, error)

// Invoke navigates to path's parent on target via go-lookup, then calls
// the exported method named by path's final segment. The method must
// satisfy invokableSignature.
func Invoke(target interface{}, path string, pos []string, kw map[string]string) (Result, error) {
	segments := strings.Split(path, ".")
	methodName := exportedName(segments[len(segments)-1])

	var receiver reflect.Value
	if len(segments) == 1 {
		receiver = reflect.ValueOf(target)
	} else {
		parentPath := strings.Join(segments[:len(segments)-1], ".")
		v, err := lookup.LookupString(target, parentPath)
		if err != nil {
			return nil, fmt.Errorf("step: resolve %q: %w", path, err)
		}
		receiver = v
	}

	method := receiver.MethodByName(methodName)
	if !method.IsValid() && receiver.CanAddr() {
		method = receiver.Addr().MethodByName(methodName)
	}
	if !method.IsValid() {
		return nil, fmt.Errorf("step: no method %q on path %q", methodName, path)
	}

	fn, ok := method.Interface().(invokableSignature)
	if !ok {
		return nil, fmt.Errorf("step: method %q has an unsupported signature", methodName)
	}
	return fn(pos, kw)
}

func exportedName(word string) string {
	if word == "" {
		return word
	}
	r := []rune(word)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
