// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 multimodal 校验发往上游的图片内容。

# 内联图片

VisionConfig.ValidateInline 依次检查声明的媒体类型、由 base64 长度估算的
解码大小（默认上限 5MB）、base64 合法性，最后用文件头魔数识别真实格式。
超限的图片不会被解码。识别出的格式优先于声明的格式。

支持的格式：JPEG、PNG、GIF、WebP。

# 远程图片

Fetcher 在 inline 模式下下载图片 URL：先经 URLValidator 校验，
再用受限读取拉取至多 MaxImageSize+1 字节，然后按内联图片的规则检查。
重定向与拨号阶段的 SSRF 拒绝原样向上传递。
*/
package multimodal
