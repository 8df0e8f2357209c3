// Package api 定义 claudegate HTTP API 的请求与响应类型。
//
// # 端点
//
//   - POST /api/v1/chat/completions：JSON 或 SSE（stream=true）
//   - GET  /api/v1/chat/ws：WebSocket 流式对话
//   - GET  /api/v1/models：可用 Claude 模型
//   - GET  /health、/healthz、/ready、/version
//
// 请求体沿用 Open WebUI pipe 的形状：messages 的 content 可以是字符串，
// 也可以是 text / image_url 片段数组。错误只以 [ErrorDetail] 的形式返回，
// 其中的文案来自固定表，不包含上游原文。
package api
