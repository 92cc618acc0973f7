package plugin

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// RecordPrefix is the partition key prefix for remote plugin records
const RecordPrefix = "PLUGIN#"

// PluginQuerier defines the interface for querying plugins from storage
type PluginQuerier interface {
	QueryByPK(ctx context.Context, pk string) ([]map[string]types.AttributeValue, error)
}

// table is an immutable view of every registration. Writers publish a new
// table; readers never lock.
type table struct {
	core    map[string]map[string]Registration
	plugins map[string]map[string]Registration
	events  map[string][]EventTarget
	records []PluginRecord
}

// Registry holds loaded command registrations
type Registry struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[table]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&table{
		core:    map[string]map[string]Registration{},
		plugins: map[string]map[string]Registration{},
		events:  map[string][]EventTarget{},
	})
	return r
}

// RegisterCore adds a core module such as App or Window
func (r *Registry) RegisterCore(b *Builder) error {
	name := b.Name()
	if name == "" || strings.HasPrefix(name, ipccontract.PluginPrefix) || strings.Contains(name, "|") {
		return fmt.Errorf("invalid core module name %q", name)
	}
	commands, err := b.build(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	if _, exists := cur.core[name]; exists {
		return fmt.Errorf("core module %s already registered", name)
	}
	next := cur.clone()
	next.core[name] = commands
	r.current.Store(next)
	return nil
}

// RegisterPlugin adds a plugin reachable as "plugin:<name>"
func (r *Registry) RegisterPlugin(b *Builder) error {
	name := b.Name()
	if name == "" || strings.ContainsAny(name, ":|") {
		return fmt.Errorf("invalid plugin name %q", name)
	}
	commands, err := b.build(ipccontract.PluginPrefix + name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	if _, exists := cur.plugins[name]; exists {
		return fmt.Errorf("plugin %s already initialized", name)
	}
	next := cur.clone()
	next.plugins[name] = commands
	r.current.Store(next)
	return nil
}

// Lookup resolves a module tag and command to a registration.
// Tags beginning with "plugin:" address the plugin table; anything else
// (including empty) addresses the core table.
func (r *Registry) Lookup(module, command string) (Registration, error) {
	cur := r.current.Load()

	var commands map[string]Registration
	if name, ok := ipccontract.PluginName(module); ok {
		commands, ok = cur.plugins[name]
		if !ok {
			return Registration{}, bridgeerr.New(bridgeerr.CodeUnknownCommand, fmt.Sprintf("plugin %s not initialized", name))
		}
	} else {
		if module == "" {
			module = ipccontract.AppModule
		}
		commands, ok = cur.core[module]
		if !ok {
			return Registration{}, bridgeerr.New(bridgeerr.CodeUnknownCommand, fmt.Sprintf("module %s not found", module))
		}
	}

	reg, ok := commands[command]
	if !ok {
		return Registration{}, bridgeerr.New(bridgeerr.CodeUnknownCommand, fmt.Sprintf("command %s not found", command))
	}
	return reg, nil
}

// LoadFromDynamoDB loads remote plugins from DynamoDB. Each Lambda method
// becomes a command whose handler calls the invoker.
func (r *Registry) LoadFromDynamoDB(ctx context.Context, querier PluginQuerier, invoker Invoker) error {
	items, err := querier.QueryByPK(ctx, RecordPrefix)
	if err != nil {
		return fmt.Errorf("failed to query plugins: %w", err)
	}

	records := make([]PluginRecord, 0, len(items))
	for _, item := range items {
		var record PluginRecord
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			return fmt.Errorf("failed to unmarshal plugin record: %w", err)
		}
		records = append(records, record)
	}

	for _, record := range records {
		b := NewBuilder(record.PluginID)
		for _, method := range sortedKeys(record.Methods) {
			target := record.Methods[method]
			if target.InvocationType != InvocationTypeLambda {
				return fmt.Errorf("plugin %s method %s: unsupported invocation type %q", record.PluginID, method, target.InvocationType)
			}
			var opts []CommandOption
			if perm := record.Permissions[method]; perm != "" {
				opts = append(opts, RequirePermission(perm))
			}
			b.Handle(method, RemoteHandler(invoker, record.PluginID, method, target), opts...)
		}
		if err := r.RegisterPlugin(b); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.current.Load().clone()
	for _, record := range records {
		next.records = append(next.records, record)
		for event, target := range record.Events {
			next.events[event] = append(next.events[event], target)
		}
	}
	r.current.Store(next)
	return nil
}

// EventTargets returns the remote targets declared for an event
func (r *Registry) EventTargets(event string) []EventTarget {
	return slices.Clone(r.current.Load().events[event])
}

// Plugins returns the names of every initialized plugin
func (r *Registry) Plugins() []string {
	return sortedKeys(r.current.Load().plugins)
}

// Commands returns the commands registered under a module tag
func (r *Registry) Commands(module string) []string {
	cur := r.current.Load()
	if name, ok := ipccontract.PluginName(module); ok {
		return sortedKeys(cur.plugins[name])
	}
	return sortedKeys(cur.core[module])
}

func (t *table) clone() *table {
	next := &table{
		core:    make(map[string]map[string]Registration, len(t.core)),
		plugins: make(map[string]map[string]Registration, len(t.plugins)),
		events:  make(map[string][]EventTarget, len(t.events)),
		records: slices.Clone(t.records),
	}
	for k, v := range t.core {
		next.core[k] = v
	}
	for k, v := range t.plugins {
		next.plugins[k] = v
	}
	for k, v := range t.events {
		next.events[k] = slices.Clone(v)
	}
	return next
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
