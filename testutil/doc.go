// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 claudegate 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertEventuallyTrue
  - 数据工具: MustJSON / MustParseJSON
  - DNS 模拟: FakeResolver 按固定表应答并统计查询次数

# 子包

  - testutil/mocks: MockUpstream，基于 httptest 的 Anthropic API 模拟，
    支持脚本化响应序列、请求记录与故障注入
  - testutil/fixtures: Anthropic 响应样例，包括 SSE 事件流、
    非流式消息、错误体与模型列表

# 使用示例

	up := mocks.NewMockUpstream(t).
		Enqueue(mocks.Status(503)).
		Enqueue(mocks.JSON(200, fixtures.MessageJSON("hi")))
	resp, err := client.Post(up.URL()+"/v1/messages", ...)
*/
package testutil
