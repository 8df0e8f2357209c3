// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 streaming 将 text/event-stream 响应体切分为 SSE 帧。

# 概述

FrameReader 按行读取，空行分发一帧；支持 event、data、id 字段，
多行 data 以换行拼接，冒号开头的注释行被忽略，兼容 CRLF 行尾。

# 错误

  - io.EOF：流在帧边界处正常结束
  - ErrTruncatedFrame：流在帧中途结束
  - ErrFrameTooLarge：单帧超过上限（默认 1MiB）

任何错误之后 Next 都返回同一错误，帧的顺序与上游一致，不丢弃也不重排。
*/
package streaming
