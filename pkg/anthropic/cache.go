package anthropic

// SystemPrompt builds the system blocks for a request. The stable prefix is
// marked as a cache breakpoint so repeated calls within a run (retries,
// per-pattern probe requests) read it from the prompt cache. The variable
// suffix, if any, follows uncached.
func SystemPrompt(stable, variable string) []SystemBlock {
	var blocks []SystemBlock
	if stable != "" {
		blocks = append(blocks, SystemBlock{Text: stable, CacheControl: &CacheControl{TTL: "5m"}})
	}
	if variable != "" {
		blocks = append(blocks, SystemBlock{Text: variable})
	}
	return blocks
}
