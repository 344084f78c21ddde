// Package parser decodes YAML rule documents into the rule AST. It works
// at the yaml.Node level rather than through struct tags so it can report
// 1-based line numbers, reject duplicate mapping keys instead of silently
// overwriting, and bound nesting depth against pathological documents.
package parser

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rgehrsitz/pulsar/beacon"
	"github.com/rgehrsitz/pulsar/internal/ast"
	"github.com/rgehrsitz/pulsar/internal/diag"
)

// MaxNestingDepth is the defensive bound on document nesting.
const MaxNestingDepth = 100

// operatorAliases maps every accepted comparison lexeme to its canonical
// symbol.
var operatorAliases = map[string]beacon.CompareOp{
	">":                     beacon.OpGT,
	"<":                     beacon.OpLT,
	">=":                    beacon.OpGE,
	"<=":                    beacon.OpLE,
	"==":                    beacon.OpEQ,
	"!=":                    beacon.OpNE,
	"greater_than":          beacon.OpGT,
	"less_than":             beacon.OpLT,
	"greater_than_or_equal": beacon.OpGE,
	"less_than_or_equal":    beacon.OpLE,
	"equal_to":              beacon.OpEQ,
	"not_equal_to":          beacon.OpNE,
	"gt":                    beacon.OpGT,
	"lt":                    beacon.OpLT,
	"gte":                   beacon.OpGE,
	"lte":                   beacon.OpLE,
	"eq":                    beacon.OpEQ,
	"ne":                    beacon.OpNE,
}

// ParseOp resolves a comparison operator lexeme, accepting both the
// canonical symbols and the spelled aliases.
func ParseOp(lexeme string) (beacon.CompareOp, bool) {
	op, ok := operatorAliases[lexeme]
	return op, ok
}

// fileParser carries the per-document state.
type fileParser struct {
	file  string
	diags *diag.List
}

func (p *fileParser) errf(node *yaml.Node, format string, args ...any) {
	line := 0
	if node != nil {
		line = node.Line
	}
	p.diags.Add(diag.Errorf(diag.KindParse, format, args...).At(p.file, line))
}

// Parse decodes one YAML document. The label names the source in
// diagnostics (usually the file path). On any parse diagnostic the rule
// list is nil.
func Parse(data []byte, label string) ([]*ast.Rule, *diag.List) {
	diags := &diag.List{}
	p := &fileParser{file: label, diags: diags}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		p.diags.Add(diag.Errorf(diag.KindParse, "malformed YAML: %v", err).At(label, yamlErrorLine(err)))
		return nil, diags
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		p.diags.Add(diag.Errorf(diag.KindParse, "empty document: missing rules sequence").At(label, 1))
		return nil, diags
	}

	doc := root.Content[0]
	if err := checkDepth(doc, 0); err != nil {
		p.errf(doc, "%v", err)
		return nil, diags
	}
	if doc.Kind != yaml.MappingNode {
		p.errf(doc, "document root must be a mapping with a rules sequence")
		return nil, diags
	}
	p.checkDuplicateKeys(doc)

	rulesNode := mappingValue(doc, "rules")
	if rulesNode == nil {
		p.errf(doc, "missing rules sequence")
		return nil, diags
	}
	if rulesNode.Kind != yaml.SequenceNode {
		p.errf(rulesNode, "rules must be a sequence")
		return nil, diags
	}

	var rules []*ast.Rule
	for _, item := range rulesNode.Content {
		if r := p.parseRule(item); r != nil {
			rules = append(rules, r)
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}
	return rules, diags
}

// ParseFile reads and parses one rule file.
func ParseFile(path string) ([]*ast.Rule, *diag.List) {
	data, err := os.ReadFile(path)
	if err != nil {
		diags := &diag.List{}
		diags.Add(diag.Errorf(diag.KindParse, "reading rules: %v", err).At(path, 0))
		return nil, diags
	}
	return Parse(data, path)
}

// ParseDir parses every *.yaml / *.yml file under dir, recursively, in
// case-sensitive lexicographic path order. A parse error in any file fails
// the whole set.
func ParseDir(dir string) ([]*ast.Rule, *diag.List) {
	diags := &diag.List{}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		diags.Add(diag.Errorf(diag.KindParse, "scanning rules directory: %v", err).At(dir, 0))
		return nil, diags
	}
	sort.Strings(files)

	var rules []*ast.Rule
	for _, f := range files {
		rs, ds := ParseFile(f)
		diags.Merge(ds)
		rules = append(rules, rs...)
	}
	if diags.HasErrors() {
		return nil, diags
	}
	return rules, diags
}

func (p *fileParser) parseRule(node *yaml.Node) *ast.Rule {
	if node.Kind != yaml.MappingNode {
		p.errf(node, "rule entry must be a mapping")
		return nil
	}
	p.checkDuplicateKeys(node)

	rule := &ast.Rule{SourceFile: p.file, SourceLine: node.Line}

	nameKey, nameVal := mappingEntry(node, "name")
	if nameVal == nil || strings.TrimSpace(nameVal.Value) == "" {
		p.errf(node, "rule is missing a name")
		return nil
	}
	rule.Name = nameVal.Value
	rule.SourceLine = nameKey.Line

	if d := mappingValue(node, "description"); d != nil {
		rule.Description = d.Value
	}

	if in := mappingValue(node, "inputs"); in != nil {
		rule.Inputs = p.parseInputs(in, rule.Name)
	}

	condNode := mappingValue(node, "conditions")
	if condNode == nil {
		p.errf(node, "rule %q is missing conditions", rule.Name)
		return nil
	}
	rule.Conditions = p.parseConditionGroup(condNode, rule.Name, 0)

	actNode := mappingValue(node, "actions")
	if actNode == nil {
		p.errf(node, "rule %q is missing actions", rule.Name)
		return nil
	}
	rule.Actions = p.parseActions(actNode, rule.Name)

	if elseNode := mappingValue(node, "else"); elseNode != nil {
		if elseNode.Kind != yaml.MappingNode {
			p.errf(elseNode, "rule %q: else must be a mapping with actions", rule.Name)
		} else {
			p.checkDuplicateKeys(elseNode)
			if ea := mappingValue(elseNode, "actions"); ea != nil {
				rule.Else = p.parseActions(ea, rule.Name)
			} else {
				p.errf(elseNode, "rule %q: else is missing actions", rule.Name)
			}
		}
	}

	return rule
}

// parseConditionGroup decodes a conditions mapping with optional all: and
// any: sequences into a group node.
func (p *fileParser) parseConditionGroup(node *yaml.Node, rule string, depth int) ast.Condition {
	if depth > MaxNestingDepth {
		p.errf(node, "rule %q: conditions nested deeper than %d levels", rule, MaxNestingDepth)
		return nil
	}
	if node.Kind != yaml.MappingNode {
		p.errf(node, "rule %q: conditions must be a mapping with all/any sequences", rule)
		return nil
	}
	p.checkDuplicateKeys(node)

	group := &ast.GroupCondition{}
	if allNode := mappingValue(node, "all"); allNode != nil {
		group.All = p.parseConditionList(allNode, rule, depth)
	}
	if anyNode := mappingValue(node, "any"); anyNode != nil {
		group.Any = p.parseConditionList(anyNode, rule, depth)
	}
	if len(group.All) == 0 && len(group.Any) == 0 {
		p.errf(node, "rule %q: conditions must have at least one entry under all or any", rule)
		return nil
	}
	return group
}

func (p *fileParser) parseConditionList(node *yaml.Node, rule string, depth int) []ast.Condition {
	if node.Kind != yaml.SequenceNode {
		p.errf(node, "rule %q: condition list must be a sequence", rule)
		return nil
	}
	var out []ast.Condition
	for _, item := range node.Content {
		if c := p.parseConditionItem(item, rule, depth); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// parseConditionItem unwraps the condition: envelope and dispatches on the
// type discriminator.
func (p *fileParser) parseConditionItem(node *yaml.Node, rule string, depth int) ast.Condition {
	if node.Kind != yaml.MappingNode {
		p.errf(node, "rule %q: condition entry must be a mapping", rule)
		return nil
	}
	p.checkDuplicateKeys(node)

	body := mappingValue(node, "condition")
	if body == nil {
		p.errf(node, "rule %q: condition entry must be wrapped under a condition key", rule)
		return nil
	}
	if body.Kind != yaml.MappingNode {
		p.errf(body, "rule %q: condition must be a mapping", rule)
		return nil
	}
	p.checkDuplicateKeys(body)

	typeNode := mappingValue(body, "type")
	if typeNode == nil {
		p.errf(body, "rule %q: condition is missing its type", rule)
		return nil
	}

	switch typeNode.Value {
	case "comparison":
		return p.parseComparison(body, rule)
	case "expression":
		return p.parseExpression(body, rule)
	case "threshold_over_time":
		return p.parseTemporal(body, rule)
	case "group":
		inner := mappingValue(body, "conditions")
		if inner == nil {
			p.errf(body, "rule %q: group condition is missing its conditions", rule)
			return nil
		}
		return p.parseConditionGroup(inner, rule, depth+1)
	default:
		p.errf(typeNode, "rule %q: unknown condition type %q", rule, typeNode.Value)
		return nil
	}
}

func (p *fileParser) parseComparison(node *yaml.Node, rule string) ast.Condition {
	sensor := scalarValue(node, "sensor")
	if sensor == "" {
		p.errf(node, "rule %q: comparison is missing its sensor", rule)
		return nil
	}
	opNode := mappingValue(node, "operator")
	if opNode == nil {
		p.errf(node, "rule %q: comparison is missing its operator", rule)
		return nil
	}
	op, ok := ParseOp(opNode.Value)
	if !ok {
		p.errf(opNode, "rule %q: unknown operator %q", rule, opNode.Value)
		return nil
	}
	valNode := mappingValue(node, "value")
	if valNode == nil {
		p.errf(node, "rule %q: comparison is missing its value", rule)
		return nil
	}
	val, err := literalValue(valNode)
	if err != nil {
		p.errf(valNode, "rule %q: %v", rule, err)
		return nil
	}
	return &ast.ComparisonCondition{Sensor: sensor, Op: op, Value: val}
}

func (p *fileParser) parseExpression(node *yaml.Node, rule string) ast.Condition {
	exprNode := mappingValue(node, "expression")
	if exprNode == nil || strings.TrimSpace(exprNode.Value) == "" {
		p.errf(node, "rule %q: expression condition is missing its expression", rule)
		return nil
	}
	prog, err := beacon.ParseExpression(exprNode.Value)
	if err != nil {
		p.errf(exprNode, "rule %q: invalid expression: %v", rule, err)
		return nil
	}
	return &ast.ExpressionCondition{Source: prog.Source, Prog: prog}
}

func (p *fileParser) parseTemporal(node *yaml.Node, rule string) ast.Condition {
	sensor := scalarValue(node, "sensor")
	if sensor == "" {
		p.errf(node, "rule %q: threshold_over_time is missing its sensor", rule)
		return nil
	}
	opNode := mappingValue(node, "operator")
	if opNode == nil {
		p.errf(node, "rule %q: threshold_over_time is missing its operator", rule)
		return nil
	}
	op, ok := ParseOp(opNode.Value)
	if !ok {
		p.errf(opNode, "rule %q: unknown operator %q", rule, opNode.Value)
		return nil
	}

	// threshold is required; a numerically coercible value field is
	// promoted when threshold is absent.
	thrNode := mappingValue(node, "threshold")
	if thrNode == nil {
		thrNode = mappingValue(node, "value")
	}
	if thrNode == nil {
		p.errf(node, "rule %q: threshold_over_time is missing its threshold", rule)
		return nil
	}
	var threshold float64
	if err := thrNode.Decode(&threshold); err != nil {
		p.errf(thrNode, "rule %q: threshold must be a number, got %q", rule, thrNode.Value)
		return nil
	}

	durNode := mappingValue(node, "duration")
	if durNode == nil {
		p.errf(node, "rule %q: threshold_over_time is missing its duration", rule)
		return nil
	}
	var durationMS int64
	if err := durNode.Decode(&durationMS); err != nil || durationMS <= 0 {
		p.errf(durNode, "rule %q: duration must be a positive integer of milliseconds, got %q", rule, durNode.Value)
		return nil
	}

	mode := beacon.Strict
	if modeNode := mappingValue(node, "mode"); modeNode != nil {
		switch modeNode.Value {
		case "strict":
			mode = beacon.Strict
		case "extended":
			mode = beacon.Extended
		default:
			p.errf(modeNode, "rule %q: unknown temporal mode %q", rule, modeNode.Value)
			return nil
		}
	}

	return &ast.TemporalCondition{
		Sensor:    sensor,
		Op:        op,
		Threshold: threshold,
		Duration:  time.Duration(durationMS) * time.Millisecond,
		Mode:      mode,
	}
}

func (p *fileParser) parseActions(node *yaml.Node, rule string) []ast.Action {
	if node.Kind != yaml.SequenceNode {
		p.errf(node, "rule %q: actions must be a sequence", rule)
		return nil
	}
	var out []ast.Action
	for _, item := range node.Content {
		if a := p.parseActionItem(item, rule); a != nil {
			out = append(out, a)
		}
	}
	return out
}

func (p *fileParser) parseActionItem(node *yaml.Node, rule string) ast.Action {
	if node.Kind != yaml.MappingNode {
		p.errf(node, "rule %q: action entry must be a mapping", rule)
		return nil
	}
	p.checkDuplicateKeys(node)

	emit := beacon.EmitAlways
	if emitNode := mappingValue(node, "emit"); emitNode != nil {
		switch emitNode.Value {
		case "always":
			emit = beacon.EmitAlways
		case "on_change":
			emit = beacon.EmitOnChange
		case "on_enter":
			emit = beacon.EmitOnEnter
		default:
			p.errf(emitNode, "rule %q: unknown emit mode %q", rule, emitNode.Value)
			return nil
		}
	}

	var kinds []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		k := node.Content[i].Value
		if k == "set_value" || k == "send_message" || k == "buffer" || k == "log" {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) != 1 {
		p.errf(node, "rule %q: action entry must carry exactly one of set_value, send_message, buffer, log", rule)
		return nil
	}

	body := mappingValue(node, kinds[0])
	if body == nil || body.Kind != yaml.MappingNode {
		p.errf(node, "rule %q: %s must be a mapping", rule, kinds[0])
		return nil
	}
	p.checkDuplicateKeys(body)

	switch kinds[0] {
	case "set_value":
		return p.parseSetAction(body, rule, emit)
	case "send_message":
		return p.parseSendMessage(body, rule, emit)
	case "buffer":
		return p.parseBufferAction(body, rule)
	case "log":
		return p.parseLogAction(body, rule)
	}
	return nil
}

func (p *fileParser) parseSetAction(node *yaml.Node, rule string, emit beacon.EmitMode) ast.Action {
	key := scalarValue(node, "key")
	if key == "" {
		p.errf(node, "rule %q: set_value is missing its key", rule)
		return nil
	}
	action := &ast.SetAction{Key: key, Emit: emit}

	if valNode := mappingValue(node, "value"); valNode != nil {
		val, err := literalValue(valNode)
		if err != nil {
			p.errf(valNode, "rule %q: %v", rule, err)
			return nil
		}
		action.Value = val
		action.HasValue = true
	}
	if exprNode := mappingValue(node, "value_expression"); exprNode != nil {
		prog, err := beacon.ParseExpression(exprNode.Value)
		if err != nil {
			p.errf(exprNode, "rule %q: invalid value expression: %v", rule, err)
			return nil
		}
		action.Expr = prog
	}
	if !action.HasValue && action.Expr == nil {
		p.errf(node, "rule %q: set_value needs a value or a value_expression", rule)
		return nil
	}
	return action
}

func (p *fileParser) parseSendMessage(node *yaml.Node, rule string, emit beacon.EmitMode) ast.Action {
	channel := scalarValue(node, "channel")
	if channel == "" {
		p.errf(node, "rule %q: send_message is missing its channel", rule)
		return nil
	}
	action := &ast.SendMessageAction{Channel: channel, Emit: emit}
	if msgNode := mappingValue(node, "message"); msgNode != nil {
		action.Message = msgNode.Value
	}
	if exprNode := mappingValue(node, "message_expression"); exprNode != nil {
		prog, err := beacon.ParseExpression(exprNode.Value)
		if err != nil {
			p.errf(exprNode, "rule %q: invalid message expression: %v", rule, err)
			return nil
		}
		action.Expr = prog
	}
	if action.Message == "" && action.Expr == nil {
		p.errf(node, "rule %q: send_message needs a message or a message_expression", rule)
		return nil
	}
	return action
}

func (p *fileParser) parseBufferAction(node *yaml.Node, rule string) ast.Action {
	key := scalarValue(node, "key")
	if key == "" {
		p.errf(node, "rule %q: buffer is missing its key", rule)
		return nil
	}
	action := &ast.BufferAction{Key: key}
	if valNode := mappingValue(node, "value"); valNode != nil {
		val, err := literalValue(valNode)
		if err != nil {
			p.errf(valNode, "rule %q: %v", rule, err)
			return nil
		}
		action.Value = val
		action.HasValue = true
	}
	if exprNode := mappingValue(node, "value_expression"); exprNode != nil {
		prog, err := beacon.ParseExpression(exprNode.Value)
		if err != nil {
			p.errf(exprNode, "rule %q: invalid buffer expression: %v", rule, err)
			return nil
		}
		action.Expr = prog
	}
	return action
}

func (p *fileParser) parseLogAction(node *yaml.Node, rule string) ast.Action {
	msg := scalarValue(node, "message")
	if msg == "" {
		p.errf(node, "rule %q: log is missing its message", rule)
		return nil
	}
	level := scalarValue(node, "level")
	if level == "" {
		level = "info"
	}
	return &ast.LogAction{Level: level, Message: msg}
}

func (p *fileParser) parseInputs(node *yaml.Node, rule string) []ast.InputBinding {
	if node.Kind != yaml.SequenceNode {
		p.errf(node, "rule %q: inputs must be a sequence", rule)
		return nil
	}
	var out []ast.InputBinding
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			p.errf(item, "rule %q: input entry must be a mapping", rule)
			continue
		}
		p.checkDuplicateKeys(item)

		binding := ast.InputBinding{Required: true}
		binding.Sensor = scalarValue(item, "id")
		if binding.Sensor == "" {
			p.errf(item, "rule %q: input entry is missing its id", rule)
			continue
		}
		if reqNode := mappingValue(item, "required"); reqNode != nil {
			var req bool
			if err := reqNode.Decode(&req); err != nil {
				p.errf(reqNode, "rule %q: required must be a boolean", rule)
				continue
			}
			binding.Required = req
		}
		if fb := mappingValue(item, "fallback"); fb != nil {
			if !p.parseFallback(fb, rule, &binding) {
				continue
			}
		}
		out = append(out, binding)
	}
	return out
}

func (p *fileParser) parseFallback(node *yaml.Node, rule string, binding *ast.InputBinding) bool {
	if node.Kind != yaml.MappingNode {
		p.errf(node, "rule %q: fallback must be a mapping", rule)
		return false
	}
	p.checkDuplicateKeys(node)

	switch strategy := scalarValue(node, "strategy"); strategy {
	case "use_default":
		binding.Strategy = beacon.UseDefault
		valNode := mappingValue(node, "default_value")
		if valNode == nil {
			p.errf(node, "rule %q: use_default fallback needs a default_value", rule)
			return false
		}
		val, err := literalValue(valNode)
		if err != nil {
			p.errf(valNode, "rule %q: %v", rule, err)
			return false
		}
		binding.Default = val
	case "use_last_known":
		binding.Strategy = beacon.UseLastKnown
		if ageNode := mappingValue(node, "max_age"); ageNode != nil {
			d, err := time.ParseDuration(ageNode.Value)
			if err != nil || d <= 0 {
				p.errf(ageNode, "rule %q: max_age must be a positive duration, got %q", rule, ageNode.Value)
				return false
			}
			binding.MaxAge = d
		}
	case "propagate_unavailable":
		binding.Strategy = beacon.PropagateUnavailable
	case "skip_rule":
		binding.Strategy = beacon.SkipRule
	case "":
		p.errf(node, "rule %q: fallback is missing its strategy", rule)
		return false
	default:
		p.errf(node, "rule %q: unknown fallback strategy %q", rule, strategy)
		return false
	}
	return true
}

// checkDuplicateKeys reports an error for every repeated key of a mapping.
func (p *fileParser) checkDuplicateKeys(node *yaml.Node) {
	seen := make(map[string]int, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if first, ok := seen[key.Value]; ok {
			p.diags.Add(diag.Errorf(diag.KindParse,
				"duplicate key %q (first defined on line %d)", key.Value, first).
				At(p.file, key.Line))
			continue
		}
		seen[key.Value] = key.Line
	}
}

func checkDepth(node *yaml.Node, depth int) error {
	if depth > MaxNestingDepth {
		return fmt.Errorf("document nested deeper than %d levels", MaxNestingDepth)
	}
	for _, child := range node.Content {
		if err := checkDepth(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// mappingEntry returns the key and value nodes for key, or nils.
func mappingEntry(node *yaml.Node, key string) (*yaml.Node, *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i], node.Content[i+1]
		}
	}
	return nil, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	_, v := mappingEntry(node, key)
	return v
}

func scalarValue(node *yaml.Node, key string) string {
	if v := mappingValue(node, key); v != nil && v.Kind == yaml.ScalarNode {
		return v.Value
	}
	return ""
}

// literalValue decodes a scalar node into a number, bool, or string value.
func literalValue(node *yaml.Node) (beacon.Value, error) {
	if node.Kind != yaml.ScalarNode {
		return beacon.Null, fmt.Errorf("literal must be a scalar")
	}
	var raw any
	if err := node.Decode(&raw); err != nil {
		return beacon.Null, fmt.Errorf("invalid literal %q", node.Value)
	}
	switch raw.(type) {
	case nil, bool, string, int, int64, uint64, float32, float64:
		return beacon.FromAny(raw), nil
	default:
		return beacon.Null, fmt.Errorf("literal %q must be a number, boolean, or string", node.Value)
	}
}

// yamlErrorLine digs a line number out of a yaml error string when one is
// present ("yaml: line N: ...").
func yamlErrorLine(err error) int {
	msg := err.Error()
	const marker = "line "
	i := strings.Index(msg, marker)
	if i < 0 {
		return 0
	}
	n := 0
	for _, c := range msg[i+len(marker):] {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
