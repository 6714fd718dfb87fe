package app

// OpenAPISpec is the OpenAPI document served by the Swagger UI
var OpenAPISpec = []byte(`openapi: 3.0.3
info:
  title: Crosspost Publish API
  description: Multi-platform publish orchestration with rate budgets, webhook correlation and ack reconciliation.
  version: 1.0.0
servers:
  - url: /api/v1
paths:
  /publish:
    post:
      summary: Submit a publish request
      description: Starts a publish workflow, or attaches to the in-flight workflow for the same platform:accountId:postId key.
      requestBody:
        required: true
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/SubmitRequest'
      responses:
        '202':
          description: Workflow started or attached
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/SubmitResponse'
        '400':
          description: Structurally invalid request
  /publish/{key}/state:
    get:
      summary: Get workflow state
      parameters:
        - $ref: '#/components/parameters/WorkflowKey'
      responses:
        '200':
          description: Current workflow state
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/WorkflowState'
        '404':
          description: Unknown workflow key
  /publish/{key}/progress:
    get:
      summary: Get workflow progress
      parameters:
        - $ref: '#/components/parameters/WorkflowKey'
      responses:
        '200':
          description: Step and monotonic completion percentage
        '404':
          description: Unknown workflow key
  /publish/{key}/cancel:
    post:
      summary: Request cancellation
      description: Cooperative cancel, honored at the next suspension point. Once the remote publish call has been issued the cancel is recorded as a no-op.
      parameters:
        - $ref: '#/components/parameters/WorkflowKey'
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                reason:
                  type: string
      responses:
        '202':
          description: Cancel delivered
        '404':
          description: Unknown workflow key
        '409':
          description: Workflow already terminal
  /publish/{key}/retry:
    post:
      summary: Retry a failed workflow
      parameters:
        - $ref: '#/components/parameters/WorkflowKey'
      responses:
        '202':
          description: Fresh workflow started
        '409':
          description: Workflow is not in the failed state
  /webhooks/{provider}:
    post:
      summary: Ingest a provider webhook delivery
      parameters:
        - name: provider
          in: path
          required: true
          schema:
            type: string
            enum: [tiktok, meta]
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              properties:
                event_id:
                  type: string
                event_type:
                  type: string
                platform_id:
                  type: string
                payload:
                  type: object
      responses:
        '200':
          description: Accepted, already seen, or deliberately ignored
        '400':
          description: Malformed body
components:
  parameters:
    WorkflowKey:
      name: key
      in: path
      required: true
      description: Workflow key in the form platform:accountId:postId
      schema:
        type: string
  schemas:
    SubmitRequest:
      type: object
      required: [platform, account_id, token_id, caption, post_id, creator_id, idempotency_key]
      properties:
        platform:
          type: string
          enum: [instagram, tiktok, x, reddit]
        account_id:
          type: string
        token_id:
          type: string
        media_ref:
          type: string
        caption:
          type: string
        hashtags:
          type: array
          items:
            type: string
        mentions:
          type: array
          items:
            type: string
        location:
          type: object
          properties:
            lat:
              type: number
            lng:
              type: number
            place_id:
              type: string
        schedule_at:
          type: string
          format: date-time
        post_id:
          type: string
        creator_id:
          type: string
        idempotency_key:
          type: string
    SubmitResponse:
      type: object
      properties:
        key:
          type: string
        attached:
          type: boolean
        state:
          $ref: '#/components/schemas/WorkflowState'
    WorkflowState:
      type: object
      properties:
        key:
          type: string
        step:
          type: string
          enum: [init, policy_check, rate_reserved, publishing, awaiting_ack, completed, failed, cancelled]
        retry_count:
          type: integer
        error:
          type: string
        remote_id:
          type: string
        remote_url:
          type: string
        started_at:
          type: string
          format: date-time
        completed_at:
          type: string
          format: date-time
`)
