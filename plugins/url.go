package plugins

import (
	"errors"
	"net/url"
	"strconv"
	"sync"

	"github.com/icyseptember2237/scripthost"
)

// URL installs URL(url, base) with URL.parse, URL.createObjectURL and
// URL.revokeObjectURL. Engines whose functions cannot carry properties
// get a plain URL object instead.
type URL struct {
	mu      sync.Mutex
	next    int
	objects map[string]*scripthost.Value
}

func NewURL() *URL {
	return &URL{objects: make(map[string]*scripthost.Value)}
}

func (p *URL) Setup(c *scripthost.Context) error {
	statics := map[string]scripthost.HostFunc{
		"parse":           p.parse,
		"createObjectURL": p.createObjectURL,
		"revokeObjectURL": p.revokeObjectURL,
	}

	ctor, err := c.RegisterFunction("URL", p.parse)
	if err != nil {
		return err
	}
	defer ctor.Close()
	err = populate(ctor, statics, nil)
	if errors.Is(err, scripthost.ErrUnsupported) {
		return namespace(c, "URL", statics, nil)
	}
	return err
}

// Close drops every object URL that was not revoked.
func (p *URL) Close(*scripthost.Context) {
	p.mu.Lock()
	objects := p.objects
	p.objects = make(map[string]*scripthost.Value)
	p.mu.Unlock()
	for _, v := range objects {
		_ = v.Close()
	}
}

func (p *URL) parse(_ *scripthost.Value, args []any) (any, error) {
	raw, ok := stringArg(args, 0)
	if !ok {
		return nil, argError("URL", "1 argument required")
	}
	base, _ := stringArg(args, 1)
	return ParseURL(raw, base)
}

// ParseURL resolves raw against base and describes the result with the
// usual URL fields.
func ParseURL(raw, base string) (map[string]any, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, argError("URL", "Invalid URL: "+raw)
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return nil, argError("URL", "Invalid base URL: "+base)
		}
		u = b.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, argError("URL", "Invalid URL: "+raw)
	}

	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	hash := ""
	if u.Fragment != "" {
		hash = "#" + u.EscapedFragment()
	}
	password, _ := u.User.Password()
	params := make(map[string]any)
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	return map[string]any{
		"href":         u.String(),
		"protocol":     u.Scheme + ":",
		"host":         u.Host,
		"hostname":     u.Hostname(),
		"port":         u.Port(),
		"pathname":     u.EscapedPath(),
		"search":       search,
		"hash":         hash,
		"origin":       u.Scheme + "://" + u.Host,
		"username":     u.User.Username(),
		"password":     password,
		"searchParams": params,
	}, nil
}

func (p *URL) createObjectURL(_ *scripthost.Value, args []any) (any, error) {
	v, ok := valueArg(args, 0)
	if !ok {
		return nil, argError("URL.createObjectURL", "object required")
	}
	owned, err := v.Dup()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.next++
	id := "blob:scripthost/" + strconv.Itoa(p.next)
	p.objects[id] = owned
	p.mu.Unlock()
	return id, nil
}

func (p *URL) revokeObjectURL(_ *scripthost.Value, args []any) (any, error) {
	id, _ := stringArg(args, 0)
	p.mu.Lock()
	v, ok := p.objects[id]
	delete(p.objects, id)
	p.mu.Unlock()
	if ok {
		_ = v.Close()
	}
	return nil, nil
}

// Object returns the value registered under an object URL.
func (p *URL) Object(id string) (*scripthost.Value, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.objects[id]
	return v, ok
}
