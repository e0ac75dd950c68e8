package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
)

// Greeting 是新会话中的第一条助手消息。
const Greeting = "How can I help you?"

// BuildSystemPrompt 根据卡片目录生成系统提示词，列出每个类别的描述与可用动作。
func BuildSystemPrompt(store card.Store) string {
	actions := store.ActionsByCategory()

	var cats strings.Builder
	for _, category := range store.Categories() {
		fmt.Fprintf(&cats, " - **%s**: %s", category.Name, category.Description)
		if list := actions[category.Name]; len(list) > 0 {
			fmt.Fprintf(&cats, ", available actions: %s", strings.Join(list, ", "))
		}
		cats.WriteString("\n")
	}

	return fmt.Sprintf(`You are an assistive communication tool that helps users find specific visual communication cards for individuals with communication needs, especially for children and adults with conditions such as autism. Based on the user's request, your task is to construct a relevant set of cards from predefined categories.

### Instructions
1. **Categories Available**:
%s
2. **Identify the Target Group**: Determine if the user's query specifies a particular target group, such as "kids" or "adults". If the target group is specified, only suggest cards relevant to that group.

3. **Use the `+"`%s`"+` Tool**: Compile user query based on the known keywords in **Categories Available** and target group (if identified) and send to the `+"`%s`"+` tool to retrieve the most relevant cards.

4. **Respond with Relevant Card Groups**: Based on the tool's output, suggest categories and actions that align with the user's needs. Include examples or specific card groups that might help them with particular activities or communication goals.
`, cats.String(), retrieval.ToolName, retrieval.ToolName)
}
