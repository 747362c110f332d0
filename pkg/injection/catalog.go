// Package injection detects prompt-injection attempts in untrusted LLM input.
// It combines a categorized regex catalog, a suspicious-keyword scan, and a
// repetition heuristic into a weighted risk score. All patterns are compiled
// once at package init and shared across callers.
package injection

import (
	"regexp"
	"sync"
)

// Category names one class of injection technique. Each category contributes
// a fixed weight to the risk score when any of its patterns match.
type Category string

const (
	CategoryJailbreak           Category = "jailbreak"
	CategorySystemExtraction    Category = "system_extraction"
	CategoryRoleManipulation    Category = "role_manipulation"
	CategoryInstructionOverride Category = "instruction_override"
	CategoryDataExfiltration    Category = "data_exfiltration"
	CategoryObfuscation         Category = "obfuscation"
	CategoryDelimiterLanguage   Category = "delimiter_language"
)

// categoryWeights is the per-category score contribution. A category counts
// once no matter how many of its patterns match.
var categoryWeights = map[Category]float64{
	CategoryJailbreak:           0.3,
	CategorySystemExtraction:    0.3,
	CategoryRoleManipulation:    0.4,
	CategoryInstructionOverride: 0.3,
	CategoryDataExfiltration:    0.4,
	CategoryObfuscation:         0.2,
	CategoryDelimiterLanguage:   0.1,
}

// scanOrder fixes the category evaluation order so verdicts are reproducible.
var scanOrder = []Category{
	CategoryJailbreak,
	CategorySystemExtraction,
	CategoryRoleManipulation,
	CategoryInstructionOverride,
	CategoryDataExfiltration,
	CategoryObfuscation,
	CategoryDelimiterLanguage,
}

// Pattern holds a compiled regex with metadata
type Pattern struct {
	Name        string         // Human-readable name for logging
	Regex       *regexp.Regexp // Compiled regex (never nil after init)
	Category    Category       // Injection category
	Description string         // What this pattern detects
}

// Catalog holds all compiled patterns, organized by category
type Catalog struct {
	byCategory map[Category][]*Pattern
	all        []*Pattern
	keywords   []string
}

// global singleton - initialized once at package load
var (
	globalCatalog *Catalog
	initOnce      sync.Once
)

// Get returns the global pattern catalog (singleton)
// Thread-safe and guaranteed to be initialized
func Get() *Catalog {
	initOnce.Do(func() {
		globalCatalog = newCatalog()
	})
	return globalCatalog
}

// newCatalog creates and populates the pattern catalog
func newCatalog() *Catalog {
	c := &Catalog{
		byCategory: make(map[Category][]*Pattern),
		all:        make([]*Pattern, 0, 64),
		keywords:   defaultSuspiciousKeywords,
	}

	c.registerJailbreakPatterns()
	c.registerSystemExtractionPatterns()
	c.registerRoleManipulationPatterns()
	c.registerInstructionOverridePatterns()
	c.registerDataExfiltrationPatterns()
	c.registerObfuscationPatterns()
	c.registerDelimiterLanguagePatterns()

	return c
}

// register adds a pattern to the catalog (internal use only)
func (c *Catalog) register(name string, pattern string, category Category, description string) {
	compiled := regexp.MustCompile(pattern)
	p := &Pattern{
		Name:        name,
		Regex:       compiled,
		Category:    category,
		Description: description,
	}

	c.byCategory[category] = append(c.byCategory[category], p)
	c.all = append(c.all, p)
}

func (c *Catalog) registerJailbreakPatterns() {
	cat := CategoryJailbreak

	// Uppercase-only on the acronym: (?i) here would flag anyone named Dan.
	c.register("dan_acronym", `\bDAN\b`, cat, "Classic DAN jailbreak persona")
	c.register("do_anything_now", `(?i)\bdo anything now\b`, cat, "DAN expansion phrase")
	c.register("developer_mode", `(?i)\b(developer|god|sudo)\s+mode\b`, cat, "Privileged-mode persona request")
	c.register("jailbreak_literal", `(?i)\bjail\s*break(ing|ed)?\b`, cat, "Explicit jailbreak mention")
	c.register("no_restrictions", `(?i)\b(without|no|free\s+(of|from))\s+(any\s+)?(restrictions?|limitations?|filters?|guidelines?|censorship)\b`, cat, "Request to drop safety constraints")
	c.register("bypass_safety", `(?i)\bbypass\s+(your\s+)?(safety|content|ethical|moral)\s*(filters?|guidelines?|rules?|policies)?\b`, cat, "Direct safety-bypass request")
	c.register("hypothetical_evil", `(?i)\b(pretend|imagine|hypothetically)\b.{0,40}\b(no|without)\s+(rules|restrictions|ethics|limits)\b`, cat, "Hypothetical framing to remove limits")
}

func (c *Catalog) registerSystemExtractionPatterns() {
	cat := CategorySystemExtraction

	c.register("reveal_system_prompt", `(?i)\b(reveal|show|print|output|display|repeat|recite|dump)\b.{0,30}\b(system|initial|original|hidden)\s+(prompt|instructions?|message|rules)\b`, cat, "System prompt extraction")
	c.register("what_are_instructions", `(?i)\bwhat\s+(are|were)\s+(your|the)\s+(instructions?|system\s+prompt|initial\s+prompt|rules)\b`, cat, "Interrogating the system prompt")
	c.register("repeat_above", `(?i)\b(repeat|echo|copy|print)\b.{0,20}\b(everything|all\s+(the\s+)?text|the\s+words?)\s+(above|before|preceding)\b`, cat, "Echoing preamble text")
	c.register("verbatim_prompt", `(?i)\bverbatim\b.{0,30}\b(prompt|instructions?)\b`, cat, "Verbatim prompt request")
}

func (c *Catalog) registerRoleManipulationPatterns() {
	cat := CategoryRoleManipulation

	c.register("you_are_now", `(?i)\byou\s+are\s+now\s+(a|an|the|in)\b`, cat, "Forced persona reassignment")
	c.register("act_as", `(?i)\b(act|behave)\s+as\s+(if\s+you\s+(are|were)\s+)?(a|an|the)\b`, cat, "Act-as persona request")
	c.register("pretend_to_be", `(?i)\bpretend\s+(you\s+are|you're|to\s+be)\b`, cat, "Pretend persona request")
	c.register("roleplay_as", `(?i)\brole\s*play\s+as\b`, cat, "Roleplay persona request")
	c.register("claimed_authority", `(?i)\b(i\s+am|as)\s+your\s+(developer|creator|administrator|admin|owner|operator|engineer)\b`, cat, "False authority claim")
	c.register("from_now_on", `(?i)\bfrom\s+now\s+on[,\s]+(you|respond|answer|act)\b`, cat, "Persistent behavior override")
}

func (c *Catalog) registerInstructionOverridePatterns() {
	cat := CategoryInstructionOverride

	c.register("ignore_previous", `(?i)\bignore\s+(all\s+|any\s+)?(previous|prior|earlier|above|preceding)\s+(instructions?|prompts?|rules?|messages?|directions?)\b`, cat, "Ignore-previous-instructions")
	c.register("disregard_rules", `(?i)\bdisregard\s+(all\s+|any\s+|your\s+)?(previous|prior|instructions?|rules?|guidelines?|training)\b`, cat, "Disregard directive")
	c.register("forget_instructions", `(?i)\bforget\s+(everything|all|any|your)\b.{0,30}\b(instructions?|told|rules?|training)\b`, cat, "Forget directive")
	c.register("override_programming", `(?i)\boverride\s+(your\s+)?(instructions?|programming|rules?|directives?|training)\b`, cat, "Override directive")
	c.register("new_instructions", `(?i)\bnew\s+(instructions?|rules?|task)\s*:`, cat, "Inline instruction replacement")
	c.register("do_not_follow", `(?i)\bdo\s+not\s+follow\b.{0,30}\b(instructions?|rules?|guidelines?)\b`, cat, "Negated compliance directive")
}

func (c *Catalog) registerDataExfiltrationPatterns() {
	cat := CategoryDataExfiltration

	c.register("send_to_url", `(?i)\b(send|post|upload|transmit|forward|exfiltrate)\b.{0,60}\bhttps?://`, cat, "Send data to external URL")
	c.register("fetch_tool_to_url", `(?i)\b(curl|wget|fetch)\s+(-\S+\s+)*https?://`, cat, "HTTP tool invocation against external host")
	c.register("email_conversation", `(?i)\b(email|mail|send)\s+(this|the)\s+(conversation|chat|data|results?|output|history)\s+to\b`, cat, "Email conversation contents out")
	c.register("webhook_url", `(?i)https?://\S*webhook\S*`, cat, "Webhook endpoint in input")
	c.register("encode_and_send", `(?i)\b(base64|hex|url)[-\s]?encode\b.{0,40}\b(send|post|upload|include)\b`, cat, "Encode-then-send exfiltration")
	c.register("markdown_image_exfil", `(?i)!\[[^\]]*\]\(https?://[^)]*\)`, cat, "Markdown image beacon")
}

func (c *Catalog) registerObfuscationPatterns() {
	cat := CategoryObfuscation

	c.register("base64_blob", `[A-Za-z0-9+/]{60,}={0,2}`, cat, "Long base64-like blob")
	c.register("hex_escape_run", `(?:\\x[0-9a-fA-F]{2}){4,}`, cat, "Run of hex escape sequences")
	c.register("unicode_escape_run", `(?:\\u[0-9a-fA-F]{4}){4,}`, cat, "Run of unicode escape sequences")
	c.register("decode_directive", `(?i)\bdecode\s+(the\s+following|this|it)\b.{0,20}\b(base64|hex|rot13|binary)\b`, cat, "Decode-and-execute directive")
	c.register("char_code_assembly", `(?i)\b(fromCharCode|chr\(\d+\)|char\s*code)\b`, cat, "Character-code string assembly")
	c.register("spaced_out_words", `(?i)\b(i\s+g\s+n\s+o\s+r\s+e|s\s+y\s+s\s+t\s+e\s+m)\b`, cat, "Letter-spaced keyword")
}

func (c *Catalog) registerDelimiterLanguagePatterns() {
	cat := CategoryDelimiterLanguage

	c.register("fenced_system_block", "(?i)```\\s*(system|assistant|instructions?)", cat, "Fake fenced system block")
	c.register("llama_sys_tags", `(?i)<<\s*/?SYS\s*>>|\[/?INST\]`, cat, "Llama-style control tags")
	c.register("chatml_tags", `(?i)<\|im_(start|end)\|>`, cat, "ChatML control tags")
	c.register("heading_system", `(?i)^#{2,}\s*(system|instructions?)\b`, cat, "Markdown heading posing as system section")
	c.register("respond_in_encoding", `(?i)\brespond\s+(only\s+)?in\s+(base64|hex|binary|rot13|reversed?\s+text|pig\s+latin)\b`, cat, "Encoded-response request")
	c.register("translate_then_comply", `(?i)\btranslate\b.{0,60}\bthen\s+(ignore|follow|execute|comply)\b`, cat, "Translation-wrapped directive")
}

// defaultSuspiciousKeywords are matched as case-insensitive substrings against
// the sanitized input. Each distinct hit adds a small score increment; they
// catch low-effort probing that no single regex category claims.
var defaultSuspiciousKeywords = []string{
	"sudo",
	"admin override",
	"root access",
	"unfiltered",
	"no limits",
	"secret instructions",
	"hidden prompt",
	"confidential system",
	"bypass",
	"uncensored",
	"disable safety",
}

// GetByCategory returns all patterns for a specific category
// Returns empty slice if category not found (never nil)
func (c *Catalog) GetByCategory(cat Category) []*Pattern {
	if patterns, ok := c.byCategory[cat]; ok {
		return patterns
	}
	return []*Pattern{}
}

// MatchCategory checks text against one category's patterns and returns the
// first match or nil. Optimized for early exit: a category counts once, so
// there is no reason to keep scanning after the first hit.
func (c *Catalog) MatchCategory(text string, cat Category) *Pattern {
	for _, p := range c.byCategory[cat] {
		if p.Regex.MatchString(text) {
			return p
		}
	}
	return nil
}

// Keywords returns the suspicious-keyword list.
func (c *Catalog) Keywords() []string {
	return c.keywords
}

// TotalPatterns returns the total count of registered patterns
func (c *Catalog) TotalPatterns() int {
	return len(c.all)
}

// CategoryCount returns the number of patterns in a category
func (c *Catalog) CategoryCount(cat Category) int {
	return len(c.byCategory[cat])
}
